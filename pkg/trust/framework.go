package trust

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// EventTrustUpdated carries the updated models.TrustProfile.
const EventTrustUpdated events.Type = "trust-updated"

// Inactivity decay policy: after a grace period, the score drifts down
// slowly, never below the decay floor.
const (
	decayGrace     = 7 * 24 * time.Hour
	decayPerDay    = 0.5
	decayFloor     = 25.0
	decaySecPerDay = 24 * 60 * 60
)

// Store persists trust profiles.
type Store interface {
	Get(userID string) (*models.TrustProfile, error)
	Save(p models.TrustProfile) error
}

// Framework owns the trust profile set exclusively.
type Framework struct {
	log     *slog.Logger
	emitter *events.Emitter
	store   Store
	now     func() time.Time

	mu       sync.RWMutex
	profiles map[string]*models.TrustProfile
}

// Option customizes a Framework.
type Option func(*Framework)

func WithStore(s Store) Option              { return func(f *Framework) { f.store = s } }
func WithClock(now func() time.Time) Option { return func(f *Framework) { f.now = now } }
func WithLogger(log *slog.Logger) Option    { return func(f *Framework) { f.log = log } }

func NewFramework(opts ...Option) *Framework {
	f := &Framework{
		log:      slog.Default(),
		emitter:  events.New(),
		now:      time.Now,
		profiles: make(map[string]*models.TrustProfile),
	}
	for _, o := range opts {
		o(f)
	}
	f.log = f.log.With("component", "trust")
	return f
}

// Events exposes the framework's event surface.
func (f *Framework) Events() *events.Emitter { return f.emitter }

// GetTrustProfile returns the current profile for a user, creating a neutral
// default on first access. The inactivity decay policy is applied lazily on
// read.
func (f *Framework) GetTrustProfile(userID string) models.TrustProfile {
	f.mu.Lock()
	p := f.loadLocked(userID)
	f.applyDecayLocked(p)
	snapshot := *p
	f.mu.Unlock()
	return snapshot
}

// loadLocked fetches or creates a profile. Callers hold f.mu.
func (f *Framework) loadLocked(userID string) *models.TrustProfile {
	if p, ok := f.profiles[userID]; ok {
		return p
	}
	if f.store != nil {
		if p, err := f.store.Get(userID); err != nil {
			f.log.Warn("trust profile load failed", "user", userID, "error", err)
		} else if p != nil {
			if p.Qualities == nil {
				p.Qualities = make(map[string]float64)
			}
			f.profiles[userID] = p
			return p
		}
	}
	p := &models.TrustProfile{
		UserID:      userID,
		UbuntuScore: models.DefaultUbuntuScore,
		Qualities:   make(map[string]float64),
		UpdatedAt:   f.now(),
	}
	f.profiles[userID] = p
	return p
}

// applyDecayLocked drifts an inactive profile's score down. Callers hold f.mu.
func (f *Framework) applyDecayLocked(p *models.TrustProfile) {
	idle := f.now().Sub(p.UpdatedAt)
	if idle <= decayGrace {
		return
	}
	days := (idle - decayGrace).Seconds() / decaySecPerDay
	decayed := p.UbuntuScore - decayPerDay*days
	if decayed < decayFloor {
		decayed = decayFloor
	}
	if decayed < p.UbuntuScore {
		p.UbuntuScore = Clamp(decayed)
	}
}

// RecordInteraction updates a user's score from one interaction outcome.
func (f *Framework) RecordInteraction(userID, interactionType string, positive bool) (models.TrustProfile, error) {
	f.mu.Lock()
	p := f.loadLocked(userID)
	f.applyDecayLocked(p)
	p.UbuntuScore = NextScore(p.UbuntuScore, WeightFor(interactionType), positive)
	p.InteractionCount++
	p.UpdatedAt = f.now()
	snapshot := *p
	f.mu.Unlock()

	if err := f.persist(snapshot); err != nil {
		return snapshot, err
	}
	f.log.Debug("interaction recorded",
		"user", userID, "type", interactionType, "positive", positive,
		"score", fmt.Sprintf("%.1f", snapshot.UbuntuScore))
	f.emitter.Emit(EventTrustUpdated, snapshot)
	return snapshot, nil
}

// UpdateUbuntuQualities merges named trait deltas into a profile. Qualities
// do not affect the headline score.
func (f *Framework) UpdateUbuntuQualities(userID string, qualities map[string]float64) (models.TrustProfile, error) {
	f.mu.Lock()
	p := f.loadLocked(userID)
	for name, delta := range qualities {
		p.Qualities[name] += delta
	}
	p.UpdatedAt = f.now()
	snapshot := *p
	snapshot.Qualities = make(map[string]float64, len(p.Qualities))
	for k, v := range p.Qualities {
		snapshot.Qualities[k] = v
	}
	f.mu.Unlock()

	if err := f.persist(snapshot); err != nil {
		return snapshot, err
	}
	f.emitter.Emit(EventTrustUpdated, snapshot)
	return snapshot, nil
}

func (f *Framework) persist(p models.TrustProfile) error {
	if f.store == nil {
		return nil
	}
	if err := f.store.Save(p); err != nil {
		return fmt.Errorf("persisting trust profile: %w", err)
	}
	return nil
}
