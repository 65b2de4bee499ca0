// Package triggers implements safety automation: periodic check-ins,
// geofence monitoring and emergency escalation.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// Events emitted by the manager.
const (
	// EventEmergencyTriggered carries the models.Trigger that fired.
	EventEmergencyTriggered events.Type = "emergency-triggered"
	// EventTriggerFired carries any non-emergency models.Trigger that
	// transitioned to triggered (geofence crossing, missed check-in).
	EventTriggerFired events.Type = "trigger-fired"
	// EventCheckInRecorded carries models.CheckIn.
	EventCheckInRecorded events.Type = "check-in-recorded"
)

var ErrTriggerNotFound = errors.New("trigger not found")

// Broadcaster delivers emergency fan-out. Emergency scope bypasses normal
// consent gating; that is deliberate policy, enforced by the implementation.
type Broadcaster interface {
	BroadcastEmergency(ctx context.Context, details string) error
}

// CheckInStore persists check-in history.
type CheckInStore interface {
	Add(c models.CheckIn) error
	Latest(ownerID string) (*models.CheckIn, error)
}

// Manager owns the trigger set exclusively and drives state transitions.
type Manager struct {
	owner   string
	log     *slog.Logger
	emitter *events.Emitter
	bridge  Broadcaster
	store   CheckInStore
	now     func() time.Time

	mu       sync.Mutex
	triggers map[string]*models.Trigger
	timers   map[string]*time.Timer
	closed   bool
}

// Option customizes a Manager.
type Option func(*Manager)

func WithStore(s CheckInStore) Option       { return func(m *Manager) { m.store = s } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithLogger(log *slog.Logger) Option    { return func(m *Manager) { m.log = log } }

// NewManager builds a manager for ownerID. The broadcaster may be nil in
// tests; emergency triggers then fire events only.
func NewManager(ownerID string, bridge Broadcaster, opts ...Option) *Manager {
	m := &Manager{
		owner:    ownerID,
		log:      slog.Default(),
		emitter:  events.New(),
		bridge:   bridge,
		now:      time.Now,
		triggers: make(map[string]*models.Trigger),
		timers:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "triggers")
	return m
}

// Events exposes the manager's event surface.
func (m *Manager) Events() *events.Emitter { return m.emitter }

// Triggers returns a snapshot of all triggers.
func (m *Manager) Triggers() []models.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, *t)
	}
	return out
}

// CreateCheckInSchedule arms a check-in trigger: if the owner stays silent
// longer than interval, the trigger fires.
func (m *Manager) CreateCheckInSchedule(interval time.Duration) models.Trigger {
	t := &models.Trigger{
		TriggerID: uuid.NewString(),
		Type:      models.TriggerCheckIn,
		OwnerID:   m.owner,
		Condition: models.TriggerCondition{Interval: interval},
		State:     models.TriggerArmed,
	}
	m.mu.Lock()
	m.triggers[t.TriggerID] = t
	m.armCheckInTimerLocked(t)
	snapshot := *t
	m.mu.Unlock()
	m.log.Info("check-in schedule created", "trigger", t.TriggerID, "interval", interval)
	return snapshot
}

// armCheckInTimerLocked (re)starts the missed-check-in timer. Callers hold m.mu.
func (m *Manager) armCheckInTimerLocked(t *models.Trigger) {
	if timer, ok := m.timers[t.TriggerID]; ok {
		timer.Stop()
	}
	if m.closed {
		return
	}
	id := t.TriggerID
	m.timers[id] = time.AfterFunc(t.Condition.Interval, func() { m.missedCheckIn(id) })
}

func (m *Manager) missedCheckIn(triggerID string) {
	m.mu.Lock()
	t, ok := m.triggers[triggerID]
	if !ok || t.State != models.TriggerArmed {
		m.mu.Unlock()
		return
	}
	t.State = models.TriggerTriggered
	t.LastEvaluatedAt = m.now()
	snapshot := *t
	m.mu.Unlock()

	m.log.Warn("check-in missed", "trigger", triggerID, "owner", snapshot.OwnerID)
	m.emitter.Emit(EventTriggerFired, snapshot)
}

// PerformCheckIn records a check-in at the given location and resets any
// pending missed-check-in timers for the owner.
func (m *Manager) PerformCheckIn(loc models.Location) error {
	checkIn := models.CheckIn{
		OwnerID:   m.owner,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		CheckedAt: m.now(),
	}
	if m.store != nil {
		if err := m.store.Add(checkIn); err != nil {
			return fmt.Errorf("recording check-in: %w", err)
		}
	}

	m.mu.Lock()
	for _, t := range m.triggers {
		if t.Type != models.TriggerCheckIn {
			continue
		}
		// A fresh check-in also re-arms a fired check-in trigger.
		if t.State == models.TriggerTriggered {
			t.State = models.TriggerArmed
		}
		if t.State == models.TriggerArmed {
			t.LastEvaluatedAt = m.now()
			m.armCheckInTimerLocked(t)
		}
	}
	m.mu.Unlock()

	m.log.Info("check-in recorded", "owner", m.owner)
	m.emitter.Emit(EventCheckInRecorded, checkIn)
	return nil
}

// CreateGeofence registers an armed geofence trigger around center. The
// trigger fires when an evaluated location crosses outside the perimeter.
func (m *Manager) CreateGeofence(center models.Location, radiusMeters float64) models.Trigger {
	t := &models.Trigger{
		TriggerID: uuid.NewString(),
		Type:      models.TriggerGeofence,
		OwnerID:   m.owner,
		Condition: models.TriggerCondition{Center: center, RadiusMeters: radiusMeters},
		State:     models.TriggerArmed,
	}
	m.mu.Lock()
	m.triggers[t.TriggerID] = t
	snapshot := *t
	m.mu.Unlock()
	m.log.Info("geofence created", "trigger", t.TriggerID, "radius_m", radiusMeters)
	return snapshot
}

// EvaluateLocation checks every geofence against the owner's current
// location. Evaluation is idempotent: an already-triggered geofence does not
// re-fire until reset to armed.
func (m *Manager) EvaluateLocation(loc models.Location) {
	var fired []models.Trigger

	m.mu.Lock()
	for _, t := range m.triggers {
		if t.Type != models.TriggerGeofence {
			continue
		}
		t.LastEvaluatedAt = m.now()
		if t.State != models.TriggerArmed {
			continue
		}
		if DistanceMeters(t.Condition.Center, loc) > t.Condition.RadiusMeters {
			t.State = models.TriggerTriggered
			fired = append(fired, *t)
		}
	}
	m.mu.Unlock()

	for _, t := range fired {
		m.log.Warn("geofence crossed", "trigger", t.TriggerID)
		m.emitter.Emit(EventTriggerFired, t)
	}
}

// TriggerEmergency fires the emergency trigger and broadcasts to all family
// peers, best effort, bypassing normal consent gating. Calling it again
// while already triggered produces no second broadcast.
func (m *Manager) TriggerEmergency(ctx context.Context, details string) error {
	m.mu.Lock()
	var t *models.Trigger
	for _, cand := range m.triggers {
		if cand.Type == models.TriggerEmergency {
			t = cand
			break
		}
	}
	if t == nil {
		t = &models.Trigger{
			TriggerID: uuid.NewString(),
			Type:      models.TriggerEmergency,
			OwnerID:   m.owner,
			State:     models.TriggerArmed,
		}
		m.triggers[t.TriggerID] = t
	}
	if t.State == models.TriggerTriggered {
		m.mu.Unlock()
		m.log.Debug("emergency already triggered, skipping re-fire")
		return nil
	}
	t.State = models.TriggerTriggered
	t.Condition.Detail = details
	t.LastEvaluatedAt = m.now()
	snapshot := *t
	m.mu.Unlock()

	m.log.Warn("emergency triggered", "owner", m.owner, "details", details)
	m.emitter.Emit(EventEmergencyTriggered, snapshot)

	if m.bridge == nil {
		return nil
	}
	// Best-effort broadcast: partial connectivity is not an error here.
	if err := m.bridge.BroadcastEmergency(ctx, details); err != nil {
		m.log.Error("emergency broadcast failed", "error", err)
		return fmt.Errorf("emergency broadcast: %w", err)
	}
	return nil
}

// ResetTrigger re-arms a triggered trigger so it may fire again.
func (m *Manager) ResetTrigger(triggerID string) error {
	return m.setState(triggerID, models.TriggerArmed)
}

// ResolveTrigger marks a triggered trigger handled; resolution terminates it.
func (m *Manager) ResolveTrigger(triggerID string) error {
	return m.setState(triggerID, models.TriggerResolved)
}

// DisableTrigger turns a trigger off permanently.
func (m *Manager) DisableTrigger(triggerID string) error {
	return m.setState(triggerID, models.TriggerDisabled)
}

func (m *Manager) setState(triggerID string, state models.TriggerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[triggerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	t.State = state
	t.LastEvaluatedAt = m.now()
	if state != models.TriggerArmed {
		if timer, ok := m.timers[triggerID]; ok {
			timer.Stop()
			delete(m.timers, triggerID)
		}
	} else if t.Type == models.TriggerCheckIn {
		m.armCheckInTimerLocked(t)
	}
	return nil
}

// Close stops all timers. The manager accepts no new work afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}
