// Package sonny assembles the mesh engine, message bridge, consent ledger,
// trust framework and trigger manager into the single core surface the host
// application talks to.
package sonny

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpamesh/sonny-mesh/pkg/bridge"
	"github.com/wpamesh/sonny-mesh/pkg/config"
	"github.com/wpamesh/sonny-mesh/pkg/consent"
	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/mesh"
	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport/internetbridge"
	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport/platform"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/store"
	"github.com/wpamesh/sonny-mesh/pkg/triggers"
	"github.com/wpamesh/sonny-mesh/pkg/trust"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

// Events re-published on the service's unified emitter.
const (
	// EventInitialized fires once after Start succeeds, carrying models.Node.
	EventInitialized            events.Type = "initialized"
	EventMeshStatusChanged      events.Type = "mesh-status-changed"
	EventPeerDiscovered         events.Type = "peer-discovered"
	EventPeerLost               events.Type = "peer-lost"
	EventConnectionStateChanged events.Type = "connection-state-changed"
	EventMessageReceived        events.Type = "message-received"
	EventMessageDeliveryUpdated events.Type = "message-delivery-updated"
	EventEmergencyTriggered     events.Type = "emergency-triggered"
	EventTriggerFired           events.Type = "trigger-fired"
	EventCheckInRecorded        events.Type = "check-in-recorded"
	EventConsentChanged         events.Type = "consent-changed"
	EventTrustUpdated           events.Type = "trust-updated"
)

// scopeConsentSync marks data messages that replicate consent ledger entries
// between peers. They are consumed by the service and never surfaced as
// ordinary family messages.
const scopeConsentSync = "consent-sync"

const outboxResendBatch = 50

// Service is the assembled core for one device session.
type Service struct {
	cfg  *config.Configuration
	node models.Node
	log  *slog.Logger

	engine   *mesh.Engine
	bridge   *bridge.Bridge
	consent  *consent.Ledger
	trust    *trust.Framework
	triggers *triggers.Manager
	stores   *store.Stores

	emitter   *events.Emitter
	startedAt time.Time

	mu      sync.Mutex
	started bool
	closed  bool

	subs []subscription
	wg   sync.WaitGroup
}

type subscription struct {
	emitter *events.Emitter
	token   events.Token
}

// Option customizes service assembly.
type Option func(*options)

type options struct {
	btDriver   platform.Driver
	wifiDriver platform.Driver
	stores     *store.Stores
	logger     *slog.Logger
}

// WithBluetoothDriver supplies the host's BLE radio stack. Without a driver
// the bluetooth transport stays off even when enabled in configuration.
func WithBluetoothDriver(d platform.Driver) Option { return func(o *options) { o.btDriver = d } }

// WithWifiDirectDriver supplies the host's Wi-Fi Direct stack.
func WithWifiDirectDriver(d platform.Driver) Option { return func(o *options) { o.wifiDriver = d } }

// WithStores enables durable persistence for consent history, trust
// profiles, the outbox and check-ins.
func WithStores(s *store.Stores) Option { return func(o *options) { o.stores = s } }

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.logger = log } }

// New assembles a service from configuration. At least one transport must be
// enabled and usable or assembly fails with mesh.ErrNoTransport.
func New(cfg *config.Configuration, opts ...Option) (*Service, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.Default()
	}

	node := models.Node{
		NodeID:      cfg.Node.NodeID,
		DeviceID:    cfg.Node.DeviceID,
		DisplayName: cfg.Node.DisplayName,
		FamilyID:    cfg.Node.FamilyID,
		UserID:      cfg.Node.UserID,
	}

	var adapters []transport.Adapter
	if cfg.Mesh.EnableBluetooth && o.btDriver != nil {
		node.Capabilities |= models.CapBluetooth
		adapters = append(adapters, platform.New(models.TransportBluetooth, node, o.btDriver, log))
	}
	if cfg.Mesh.EnableWifiDirect && o.wifiDriver != nil {
		node.Capabilities |= models.CapWifiDirect
		adapters = append(adapters, platform.New(models.TransportWifiDirect, node, o.wifiDriver, log))
	}
	if cfg.Mesh.EnableInternetBridge {
		node.Capabilities |= models.CapInternet
		adapters = append(adapters, internetbridge.New(internetbridge.Options{
			BrokerURL: cfg.Relay.BrokerURL,
			Username:  cfg.Relay.Username,
			Password:  cfg.Relay.Password,
			Root:      cfg.Relay.TopicRoot,
			Node:      node,
			Logger:    log,
		}))
	}

	engine, err := mesh.New(mesh.Config{
		Node:              node,
		HeartbeatInterval: cfg.Mesh.HeartbeatInterval,
		PeerTimeout:       cfg.Mesh.PeerTimeout,
		Logger:            log,
	}, adapters...)
	if err != nil {
		return nil, err
	}

	ledgerOpts := []consent.Option{consent.WithLogger(log)}
	trustOpts := []trust.Option{trust.WithLogger(log)}
	if o.stores != nil {
		ledgerOpts = append(ledgerOpts, consent.WithStore(o.stores.Consent))
		trustOpts = append(trustOpts, trust.WithStore(o.stores.Trust))
	}
	ledger, err := consent.NewLedger(node.UserID, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("building consent ledger: %w", err)
	}
	framework := trust.NewFramework(trustOpts...)

	bridgeOpts := []bridge.Option{bridge.WithLogger(log), bridge.WithTrust(framework)}
	if o.stores != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithOutbox(o.stores.Outbox))
	}
	br := bridge.New(engine, ledger, bridgeOpts...)

	triggerOpts := []triggers.Option{triggers.WithLogger(log)}
	if o.stores != nil {
		triggerOpts = append(triggerOpts, triggers.WithStore(o.stores.CheckIns))
	}
	manager := triggers.NewManager(node.UserID, br, triggerOpts...)

	s := &Service{
		cfg:      cfg,
		node:     node,
		log:      log.With("component", "sonny"),
		engine:   engine,
		bridge:   br,
		consent:  ledger,
		trust:    framework,
		triggers: manager,
		stores:   o.stores,
		emitter:  events.New(),
	}
	s.republishEvents()
	return s, nil
}

// republishEvents forwards each component's events onto the unified emitter
// so hosts subscribe in one place.
func (s *Service) republishEvents() {
	forward := func(em *events.Emitter, from events.Type, to events.Type) {
		tok := em.Subscribe(from, func(payload any) { s.emitter.Emit(to, payload) })
		s.subs = append(s.subs, subscription{emitter: em, token: tok})
	}

	forward(s.engine.Events(), mesh.EventStatusChanged, EventMeshStatusChanged)
	forward(s.engine.Events(), mesh.EventPeerDiscovered, EventPeerDiscovered)
	forward(s.engine.Events(), mesh.EventPeerLost, EventPeerLost)
	forward(s.engine.Events(), mesh.EventConnectionStateChanged, EventConnectionStateChanged)

	// Inbound messages pass through the consent-sync filter first.
	tok := s.bridge.Events().Subscribe(bridge.EventMessageReceived, s.onMessage)
	s.subs = append(s.subs, subscription{emitter: s.bridge.Events(), token: tok})
	forward(s.bridge.Events(), bridge.EventMessageDeliveryUpdated, EventMessageDeliveryUpdated)

	forward(s.consent.Events(), consent.EventConsentChanged, EventConsentChanged)
	forward(s.trust.Events(), trust.EventTrustUpdated, EventTrustUpdated)
	forward(s.triggers.Events(), triggers.EventEmergencyTriggered, EventEmergencyTriggered)
	forward(s.triggers.Events(), triggers.EventTriggerFired, EventTriggerFired)
	forward(s.triggers.Events(), triggers.EventCheckInRecorded, EventCheckInRecorded)
}

// onMessage routes unique inbound messages: consent replication entries feed
// the ledger, everything else surfaces to the host.
func (s *Service) onMessage(payload any) {
	msg, ok := payload.(models.Message)
	if !ok {
		return
	}
	if msg.Scope == scopeConsentSync {
		var rec models.ConsentRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			s.log.Warn("dropping malformed consent entry", "sender", msg.SenderID, "error", err)
			return
		}
		if err := s.consent.ApplyRemote(rec); err != nil {
			s.log.Warn("rejecting remote consent entry", "sender", msg.SenderID, "error", err)
		}
		return
	}
	s.emitter.Emit(EventMessageReceived, msg)
}

// Events exposes the unified event surface.
func (s *Service) Events() *events.Emitter { return s.emitter }

// Node returns the local node identity.
func (s *Service) Node() models.Node { return s.node }

// Start brings up the mesh and announces readiness. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mesh.ErrEngineClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.engine.Start(ctx); err != nil {
		return err
	}
	s.log.Info("core initialized",
		"node", s.node.NodeID, "family", s.node.FamilyID, "caps", s.node.Capabilities)
	s.emitter.Emit(EventInitialized, s.node)

	if s.stores != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resendOutbox(ctx)
		}()
	}
	return nil
}

// resendOutbox retries messages parked by earlier sessions.
func (s *Service) resendOutbox(ctx context.Context) {
	msgs, err := s.stores.Outbox.ListPending(outboxResendBatch)
	if err != nil {
		s.log.Warn("outbox load failed", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	s.log.Info("resending parked messages", "count", len(msgs))
	s.bridge.ResendOutbox(ctx, msgs)
}

// MeshStatus reports coarse mesh availability.
func (s *Service) MeshStatus() models.MeshStatus { return s.engine.Status() }

// Peers returns a snapshot of known family peers.
func (s *Service) Peers() []models.Peer { return s.engine.Peers() }

// DiscoverPeers streams peer sightings until ctx is cancelled.
func (s *Service) DiscoverPeers(ctx context.Context) <-chan models.Peer {
	return s.engine.DiscoverPeers(ctx)
}

// Connect establishes a connection to a peer, honoring transport fallback.
func (s *Service) Connect(ctx context.Context, peerID string, preferred models.Transport) error {
	_, err := s.engine.Connect(ctx, peerID, preferred)
	return err
}

// SendFamilyMessage sends content to one family member, gated by messaging
// consent.
func (s *Service) SendFamilyMessage(ctx context.Context, recipientID, content string) error {
	return s.bridge.SendFamilyMessage(ctx, recipientID, content)
}

// BroadcastFamilyStatus fans a status update out to the whole family.
func (s *Service) BroadcastFamilyStatus(ctx context.Context, status string) error {
	return s.bridge.BroadcastFamilyStatus(ctx, status)
}

// RequestConsent records a local request for access to a peer's scope and
// replicates the entry to that peer, best effort.
func (s *Service) RequestConsent(ctx context.Context, peerID, scope, reason string) (models.ConsentRecord, error) {
	rec, err := s.consent.RequestConsent(peerID, scope, reason)
	if err != nil {
		return rec, err
	}
	s.syncConsent(ctx, peerID, rec)
	return rec, nil
}

// GrantConsent grants a peer access to a scope and replicates the entry.
func (s *Service) GrantConsent(ctx context.Context, peerID, scope string, expiresAt *time.Time) (models.ConsentRecord, error) {
	rec, err := s.consent.GrantConsent(peerID, scope, expiresAt)
	if err != nil {
		return rec, err
	}
	s.syncConsent(ctx, peerID, rec)
	return rec, nil
}

// DenyConsent denies a peer's pending request and replicates the entry.
func (s *Service) DenyConsent(ctx context.Context, peerID, scope, reason string) (models.ConsentRecord, error) {
	rec, err := s.consent.DenyConsent(peerID, scope, reason)
	if err != nil {
		return rec, err
	}
	s.syncConsent(ctx, peerID, rec)
	return rec, nil
}

// RevokeConsent withdraws a peer's access and replicates the entry.
func (s *Service) RevokeConsent(ctx context.Context, peerID, scope, reason string) (models.ConsentRecord, error) {
	rec, err := s.consent.RevokeConsent(peerID, scope, reason)
	if err != nil {
		return rec, err
	}
	s.syncConsent(ctx, peerID, rec)
	return rec, nil
}

// CheckConsent evaluates the access the local user holds from a peer.
func (s *Service) CheckConsent(peerID, scope string) models.ConsentStatus {
	return s.consent.CheckConsent(peerID, scope)
}

// ConsentChain returns the audit history for a (requester, grantee, scope)
// tuple.
func (s *Service) ConsentChain(requesterID, granteeID, scope string) []models.ConsentRecord {
	return s.consent.Chain(requesterID, granteeID, scope)
}

// syncConsent replicates a ledger entry to the involved peer over the mesh.
// Replication is best effort; the peer also learns the state lazily when a
// gated operation is attempted.
func (s *Service) syncConsent(ctx context.Context, peerID string, rec models.ConsentRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	env := wire.Envelope{
		Kind:            wire.KindData,
		MessageID:       uuid.NewString(),
		SenderID:        s.node.NodeID,
		RecipientID:     peerID,
		Scope:           scopeConsentSync,
		CreatedAtMillis: time.Now().UnixMilli(),
		Payload:         payload,
	}
	frame, err := env.Encode()
	if err != nil {
		return
	}
	handle, err := s.engine.Send(ctx, peerID, frame)
	if err != nil {
		s.log.Debug("consent sync not sent", "peer", peerID, "error", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := <-handle; err != nil {
			s.log.Debug("consent sync failed", "peer", peerID, "error", err)
		}
	}()
}

// GetTrustProfile returns a user's current trust profile.
func (s *Service) GetTrustProfile(userID string) models.TrustProfile {
	return s.trust.GetTrustProfile(userID)
}

// RecordInteraction feeds one interaction outcome into a user's reputation.
func (s *Service) RecordInteraction(userID, interactionType string, positive bool) (models.TrustProfile, error) {
	return s.trust.RecordInteraction(userID, interactionType, positive)
}

// UpdateUbuntuQualities merges named trait deltas into a user's profile.
func (s *Service) UpdateUbuntuQualities(userID string, qualities map[string]float64) (models.TrustProfile, error) {
	return s.trust.UpdateUbuntuQualities(userID, qualities)
}

// CreateCheckInSchedule arms a missed-check-in trigger.
func (s *Service) CreateCheckInSchedule(interval time.Duration) models.Trigger {
	return s.triggers.CreateCheckInSchedule(interval)
}

// PerformCheckIn records a check-in and resets pending check-in timers.
func (s *Service) PerformCheckIn(loc models.Location) error {
	return s.triggers.PerformCheckIn(loc)
}

// CreateGeofence arms a geofence trigger around center.
func (s *Service) CreateGeofence(center models.Location, radiusMeters float64) models.Trigger {
	return s.triggers.CreateGeofence(center, radiusMeters)
}

// EvaluateLocation checks the owner's location against all geofences.
func (s *Service) EvaluateLocation(loc models.Location) {
	s.triggers.EvaluateLocation(loc)
}

// TriggerEmergency fires the emergency trigger and broadcasts to the family,
// bypassing consent gating.
func (s *Service) TriggerEmergency(ctx context.Context, details string) error {
	return s.triggers.TriggerEmergency(ctx, details)
}

// ResetTrigger re-arms a triggered trigger.
func (s *Service) ResetTrigger(triggerID string) error { return s.triggers.ResetTrigger(triggerID) }

// ResolveTrigger marks a triggered trigger handled.
func (s *Service) ResolveTrigger(triggerID string) error { return s.triggers.ResolveTrigger(triggerID) }

// DisableTrigger turns a trigger off.
func (s *Service) DisableTrigger(triggerID string) error { return s.triggers.DisableTrigger(triggerID) }

// Triggers returns a snapshot of all safety triggers.
func (s *Service) Triggers() []models.Trigger { return s.triggers.Triggers() }

// Status is a point-in-time snapshot of the whole core, served by the status
// endpoint.
type Status struct {
	Node            models.Node       `json:"node"`
	Mesh            models.MeshStatus `json:"mesh"`
	Connected       bool              `json:"connected"`
	ConnectionCount int               `json:"connectionCount"`
	Peers           []models.Peer     `json:"peers"`
	Triggers        []models.Trigger  `json:"triggers"`
	StartedAt       time.Time         `json:"startedAt"`
}

// Status reports the current state of the core.
func (s *Service) Status() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()
	return Status{
		Node:            s.node,
		Mesh:            s.engine.Status(),
		Connected:       s.engine.IsConnected(),
		ConnectionCount: s.engine.ConnectionCount(),
		Peers:           s.engine.Peers(),
		Triggers:        s.triggers.Triggers(),
		StartedAt:       startedAt,
	}
}

// Shutdown stops every component in dependency order. Idempotent.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.triggers.Close()
	s.bridge.Close()
	s.engine.Shutdown()
	for _, sub := range s.subs {
		sub.emitter.Unsubscribe(sub.token)
	}
	s.wg.Wait()
	s.log.Info("core stopped")
}
