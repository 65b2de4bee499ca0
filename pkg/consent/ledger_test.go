package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T, owner string) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := NewLedger(owner, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestCheckConsentWithNoEntryIsDenied(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	assert.Equal(t, models.ConsentDenied, l.CheckConsent("bob", models.ScopeMessaging))
}

func TestRequestAloneGrantsNothing(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	rec, err := l.RequestConsent("bob", models.ScopeMessaging, "stay in touch")
	require.NoError(t, err)

	assert.Equal(t, models.ConsentRequested, rec.Status)
	assert.Equal(t, "alice", rec.RequesterID)
	assert.Equal(t, "bob", rec.GranteeID)

	got := l.CheckConsent("bob", models.ScopeMessaging)
	assert.Equal(t, models.ConsentRequested, got)
	assert.NotEqual(t, models.ConsentGranted, got)
}

func TestRemoteGrantSatisfiesCheck(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	_, err := l.RequestConsent("bob", models.ScopeMessaging, "")
	require.NoError(t, err)

	// Bob's grant arrives over the mesh.
	err = l.ApplyRemote(models.ConsentRecord{
		RequesterID: "alice",
		GranteeID:   "bob",
		Scope:       models.ScopeMessaging,
		Status:      models.ConsentGranted,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ConsentGranted, l.CheckConsent("bob", models.ScopeMessaging))
	// Other scopes stay untouched.
	assert.Equal(t, models.ConsentDenied, l.CheckConsent("bob", models.ScopeLocation))
}

func TestGrantConsentGivesPeerAccess(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	rec, err := l.GrantConsent("bob", models.ScopeStatus, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ConsentGranted, rec.Status)
	assert.NotNil(t, rec.GrantedAt)
	assert.Equal(t, models.ConsentGranted, l.CheckPeerAccess("bob", models.ScopeStatus))
	// Granting bob access does not give alice access to bob.
	assert.Equal(t, models.ConsentDenied, l.CheckConsent("bob", models.ScopeStatus))
}

func TestExpiredGrantIsDenied(t *testing.T) {
	l, clock := newTestLedger(t, "alice")
	expires := clock.Now().Add(time.Hour)
	_, err := l.GrantConsent("bob", models.ScopeLocation, &expires)
	require.NoError(t, err)

	assert.Equal(t, models.ConsentGranted, l.CheckPeerAccess("bob", models.ScopeLocation))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, models.ConsentDenied, l.CheckPeerAccess("bob", models.ScopeLocation))
}

func TestRevokeSupersedesGrant(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	_, err := l.GrantConsent("bob", models.ScopeMessaging, nil)
	require.NoError(t, err)
	_, err = l.RevokeConsent("bob", models.ScopeMessaging, "changed my mind")
	require.NoError(t, err)

	got := l.CheckPeerAccess("bob", models.ScopeMessaging)
	assert.Equal(t, models.ConsentRevoked, got)
	assert.NotEqual(t, models.ConsentGranted, got)
}

func TestChainLinksEntriesInOrder(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	_, err := l.GrantConsent("bob", models.ScopeMessaging, nil)
	require.NoError(t, err)
	_, err = l.RevokeConsent("bob", models.ScopeMessaging, "")
	require.NoError(t, err)
	_, err = l.GrantConsent("bob", models.ScopeMessaging, nil)
	require.NoError(t, err)

	chain := l.Chain("bob", "alice", models.ScopeMessaging)
	require.Len(t, chain, 3)
	assert.Nil(t, chain[0].PrevID)
	require.NotNil(t, chain[1].PrevID)
	assert.Equal(t, chain[0].ID, *chain[1].PrevID)
	require.NotNil(t, chain[2].PrevID)
	assert.Equal(t, chain[1].ID, *chain[2].PrevID)

	assert.Equal(t, models.ConsentGranted, l.CheckPeerAccess("bob", models.ScopeMessaging))
}

func TestDenyConsentBlocksPeer(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	_, err := l.DenyConsent("bob", models.ScopeEmergency, "not now")
	require.NoError(t, err)
	assert.Equal(t, models.ConsentDenied, l.CheckPeerAccess("bob", models.ScopeEmergency))
}

func TestAppendEmitsConsentChanged(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	var got models.ConsentRecord
	l.Events().Subscribe(EventConsentChanged, func(payload any) {
		got = payload.(models.ConsentRecord)
	})

	_, err := l.GrantConsent("bob", models.ScopeMessaging, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ConsentGranted, got.Status)
	assert.Equal(t, "bob", got.RequesterID)
}

func TestApplyRemoteRejectsUnrelatedEntries(t *testing.T) {
	l, _ := newTestLedger(t, "alice")
	err := l.ApplyRemote(models.ConsentRecord{
		RequesterID: "bob",
		GranteeID:   "carol",
		Scope:       models.ScopeMessaging,
		Status:      models.ConsentGranted,
	})
	assert.Error(t, err)
}

func TestStoreLoadsHistoryOnConstruction(t *testing.T) {
	store := &memStore{}
	l1, err := NewLedger("alice", WithStore(store))
	require.NoError(t, err)
	_, err = l1.GrantConsent("bob", models.ScopeMessaging, nil)
	require.NoError(t, err)

	l2, err := NewLedger("alice", WithStore(store))
	require.NoError(t, err)
	assert.Equal(t, models.ConsentGranted, l2.CheckPeerAccess("bob", models.ScopeMessaging))
}

type memStore struct {
	recs []models.ConsentRecord
}

func (s *memStore) Append(rec models.ConsentRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memStore) ListByOwner(ownerID string) ([]models.ConsentRecord, error) {
	var out []models.ConsentRecord
	for _, r := range s.recs {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}
