package trust

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

func newTestFramework() (*Framework, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewFramework(WithClock(clock.Now)), clock
}

func TestGetTrustProfileCreatesNeutralDefault(t *testing.T) {
	f, _ := newTestFramework()
	p := f.GetTrustProfile("u1")
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, models.DefaultUbuntuScore, p.UbuntuScore)
	assert.Equal(t, 0, p.InteractionCount)
}

func TestRecordInteractionMovesScore(t *testing.T) {
	f, _ := newTestFramework()

	p, err := f.RecordInteraction("u1", "delivery", true)
	require.NoError(t, err)
	assert.Greater(t, p.UbuntuScore, models.DefaultUbuntuScore)
	assert.Equal(t, 1, p.InteractionCount)

	p, err = f.RecordInteraction("u1", "delivery", false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.InteractionCount)

	p2, err := f.RecordInteraction("u1", "delivery", false)
	require.NoError(t, err)
	assert.Less(t, p2.UbuntuScore, p.UbuntuScore)
}

func TestRecordInteractionEmitsEvent(t *testing.T) {
	f, _ := newTestFramework()
	var got models.TrustProfile
	f.Events().Subscribe(EventTrustUpdated, func(payload any) {
		got = payload.(models.TrustProfile)
	})

	_, err := f.RecordInteraction("u1", "consent", true)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Greater(t, got.UbuntuScore, models.DefaultUbuntuScore)
}

func TestInactivityDecayAppliesAfterGrace(t *testing.T) {
	f, clock := newTestFramework()
	p, err := f.RecordInteraction("u1", "delivery", true)
	require.NoError(t, err)
	before := p.UbuntuScore

	// Inside the grace period nothing changes.
	clock.Advance(6 * 24 * time.Hour)
	assert.Equal(t, before, f.GetTrustProfile("u1").UbuntuScore)

	// Ten days past the grace period drifts the score down.
	clock.Advance(11 * 24 * time.Hour)
	decayed := f.GetTrustProfile("u1").UbuntuScore
	assert.Less(t, decayed, before)
	assert.InDelta(t, before-5.0, decayed, 0.01)
}

func TestInactivityDecayStopsAtFloor(t *testing.T) {
	f, clock := newTestFramework()
	f.RecordInteraction("u1", "delivery", true)

	clock.Advance(10 * 365 * 24 * time.Hour)
	assert.Equal(t, decayFloor, f.GetTrustProfile("u1").UbuntuScore)
}

func TestUpdateUbuntuQualitiesMergesDeltas(t *testing.T) {
	f, _ := newTestFramework()
	before := f.GetTrustProfile("u1").UbuntuScore

	p, err := f.UpdateUbuntuQualities("u1", map[string]float64{"compassion": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Qualities["compassion"])

	p, err = f.UpdateUbuntuQualities("u1", map[string]float64{"compassion": 0.25, "respect": 1})
	require.NoError(t, err)
	assert.Equal(t, 0.75, p.Qualities["compassion"])
	assert.Equal(t, 1.0, p.Qualities["respect"])

	// Qualities never touch the headline score.
	assert.Equal(t, before, p.UbuntuScore)
}
