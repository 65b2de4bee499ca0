// Package consent implements the append-only permission ledger between
// family peers. Status changes are new entries chained to the prior one;
// nothing is ever overwritten, so the history stays auditable.
package consent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// EventConsentChanged carries the newly appended models.ConsentRecord.
const EventConsentChanged events.Type = "consent-changed"

// Store persists ledger entries. Implementations must be append-only.
type Store interface {
	Append(rec models.ConsentRecord) error
	ListByOwner(ownerID string) ([]models.ConsentRecord, error)
}

// Ledger is the local user's view of all consent chains they participate in.
// Entries where the local user is the requester track access we hold from
// peers; entries where the local user is the grantee track access we granted.
type Ledger struct {
	owner   string
	log     *slog.Logger
	emitter *events.Emitter
	store   Store
	now     func() time.Time

	mu      sync.RWMutex
	entries []models.ConsentRecord
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithStore persists every appended entry and loads history on construction.
func WithStore(s Store) Option { return func(l *Ledger) { l.store = s } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithLogger(log *slog.Logger) Option { return func(l *Ledger) { l.log = log } }

// NewLedger builds a ledger for the given local user id.
func NewLedger(ownerID string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		owner:   ownerID,
		log:     slog.Default(),
		emitter: events.New(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "consent")

	if l.store != nil {
		history, err := l.store.ListByOwner(ownerID)
		if err != nil {
			return nil, fmt.Errorf("loading consent history: %w", err)
		}
		l.entries = history
	}
	return l, nil
}

// Events exposes the ledger's event surface.
func (l *Ledger) Events() *events.Emitter { return l.emitter }

// RequestConsent appends a requested entry asking granteeID for access to
// scope. It implies no access until granted.
func (l *Ledger) RequestConsent(granteeID, scope, reason string) (models.ConsentRecord, error) {
	return l.append(l.owner, granteeID, scope, models.ConsentRequested, reason, nil)
}

// GrantConsent appends a granted entry giving requesterID access to scope,
// superseding prior entries for that pair. A nil expiresAt grants
// indefinitely.
func (l *Ledger) GrantConsent(requesterID, scope string, expiresAt *time.Time) (models.ConsentRecord, error) {
	return l.append(requesterID, l.owner, scope, models.ConsentGranted, "", expiresAt)
}

// DenyConsent appends a denied entry for requesterID's pending request.
func (l *Ledger) DenyConsent(requesterID, scope, reason string) (models.ConsentRecord, error) {
	return l.append(requesterID, l.owner, scope, models.ConsentDenied, reason, nil)
}

// RevokeConsent appends a revoked entry withdrawing requesterID's access to
// scope, effective immediately for all future checks.
func (l *Ledger) RevokeConsent(requesterID, scope, reason string) (models.ConsentRecord, error) {
	return l.append(requesterID, l.owner, scope, models.ConsentRevoked, reason, nil)
}

// ApplyRemote appends an entry received from a peer, typically a grant or
// revocation of access the local user had requested.
func (l *Ledger) ApplyRemote(rec models.ConsentRecord) error {
	if rec.RequesterID != l.owner && rec.GranteeID != l.owner {
		return fmt.Errorf("entry does not involve local user %s", l.owner)
	}
	rec.OwnerID = l.owner
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	return l.appendRecord(rec)
}

func (l *Ledger) append(requesterID, granteeID, scope string, status models.ConsentStatus, reason string, expiresAt *time.Time) (models.ConsentRecord, error) {
	now := l.now()
	rec := models.ConsentRecord{
		ID:          uuid.NewString(),
		OwnerID:     l.owner,
		RequesterID: requesterID,
		GranteeID:   granteeID,
		Scope:       scope,
		Status:      status,
		Reason:      reason,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if status == models.ConsentGranted {
		granted := now
		rec.GrantedAt = &granted
	}
	if prev := l.latest(requesterID, granteeID, scope); prev != nil {
		id := prev.ID
		rec.PrevID = &id
	}
	if err := l.appendRecord(rec); err != nil {
		return models.ConsentRecord{}, err
	}
	return rec, nil
}

func (l *Ledger) appendRecord(rec models.ConsentRecord) error {
	if l.store != nil {
		if err := l.store.Append(rec); err != nil {
			return fmt.Errorf("persisting consent entry: %w", err)
		}
	}
	l.mu.Lock()
	l.entries = append(l.entries, rec)
	l.mu.Unlock()

	l.log.Info("consent entry appended",
		"requester", rec.RequesterID, "grantee", rec.GranteeID,
		"scope", rec.Scope, "status", rec.Status)
	l.emitter.Emit(EventConsentChanged, rec)
	return nil
}

// latest returns the newest entry for a (requester, grantee, scope) chain.
func (l *Ledger) latest(requesterID, granteeID, scope string) *models.ConsentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.RequesterID == requesterID && e.GranteeID == granteeID && e.Scope == scope {
			rec := e
			return &rec
		}
	}
	return nil
}

// CheckConsent evaluates the access the local user holds from peerID for
// scope: the status of the latest chain entry, with expired grants treated
// as implicitly denied. No entry at all is denied.
func (l *Ledger) CheckConsent(peerID, scope string) models.ConsentStatus {
	rec := l.latest(l.owner, peerID, scope)
	if rec == nil {
		return models.ConsentDenied
	}
	if rec.Status == models.ConsentGranted && rec.Expired(l.now()) {
		return models.ConsentDenied
	}
	return rec.Status
}

// CheckPeerAccess evaluates the access peerID holds from the local user.
func (l *Ledger) CheckPeerAccess(peerID, scope string) models.ConsentStatus {
	rec := l.latest(peerID, l.owner, scope)
	if rec == nil {
		return models.ConsentDenied
	}
	if rec.Status == models.ConsentGranted && rec.Expired(l.now()) {
		return models.ConsentDenied
	}
	return rec.Status
}

// Chain returns the full audit history for a (requester, grantee, scope)
// tuple, oldest first.
func (l *Ledger) Chain(requesterID, granteeID, scope string) []models.ConsentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.ConsentRecord
	for _, e := range l.entries {
		if e.RequesterID == requesterID && e.GranteeID == granteeID && e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}
