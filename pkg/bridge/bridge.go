// Package bridge implements message-level orchestration above the mesh
// engine: delivery guarantees with ack/retry, inbound deduplication, family
// broadcast fan-out, and consent/trust gating of sends.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/sethvargo/go-retry"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/mesh"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

// Events emitted by the bridge.
const (
	// EventMessageReceived carries models.Message for each unique inbound
	// data message. Duplicates are acknowledged but not re-delivered.
	EventMessageReceived events.Type = "message-received"
	// EventMessageDeliveryUpdated carries models.Message on every
	// delivery-state advance.
	EventMessageDeliveryUpdated events.Type = "message-delivery-updated"
	// EventBroadcastOutcome carries BroadcastOutcome, one per target peer.
	EventBroadcastOutcome events.Type = "broadcast-outcome"
)

var (
	// ErrConsentDenied means the required consent scope is not granted.
	// Never retried automatically; a new consent flow is required.
	ErrConsentDenied = errors.New("consent denied")

	// ErrDeliveryFailed means the retry budget was exhausted without an
	// acknowledgement.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrBridgeClosed rejects work after Close.
	ErrBridgeClosed = errors.New("bridge closed")
)

const (
	// Dedup window: bounded best-effort set of recently seen message ids.
	dedupCapacity = 1000
	dedupTTL      = 10 * time.Minute

	// Handoff backoff: exponential with jitter for the initial
	// transmission, 500ms base, 3 attempts total.
	handoffBackoffBase = 500 * time.Millisecond
	handoffMaxRetries  = 2
	handoffJitter      = 100 * time.Millisecond

	// Ack protocol: resends back off exponentially with jitter from the
	// base interval, up to the per-message retry budget. ackTimeout caps
	// each individual resend publish.
	ackResendBase  = 3 * time.Second
	ackJitter      = 500 * time.Millisecond
	ackTimeout     = 3 * time.Second
	defaultRetries = 3
)

// errAckPending marks a resend attempt that is still waiting on the peer.
var errAckPending = errors.New("awaiting acknowledgement")

// BroadcastOutcome reports one peer's result within a fan-out.
type BroadcastOutcome struct {
	MessageID string
	PeerID    string
	Scope     string
	Err       error
}

// Mesh is the engine surface the bridge depends on.
type Mesh interface {
	Node() models.Node
	Send(ctx context.Context, peerID string, frame []byte) (<-chan error, error)
	Peers() []models.Peer
	ConnectionCount() int
	Events() *events.Emitter
}

// ConsentChecker gates outbound sends by scope.
type ConsentChecker interface {
	CheckConsent(peerID, scope string) models.ConsentStatus
}

// TrustRecorder feeds delivery outcomes back into reputation.
type TrustRecorder interface {
	RecordInteraction(userID, interactionType string, positive bool) (models.TrustProfile, error)
}

// Outbox persists messages that exhausted their retry budget for manual
// resend later.
type Outbox interface {
	Add(msg models.Message) error
	Delete(messageID string) error
}

type pendingMessage struct {
	msg      models.Message
	attempts int
	acked    chan struct{}
	stop     chan struct{}
}

// Bridge orchestrates message delivery for one node.
type Bridge struct {
	node    models.Node
	mesh    Mesh
	consent ConsentChecker
	trust   TrustRecorder
	outbox  Outbox
	log     *slog.Logger
	emitter *events.Emitter

	mu      sync.Mutex
	pending map[string]*pendingMessage
	closed  bool

	seen *ttlcache.Cache[string, struct{}]

	// Resend backoff knobs, overridable in tests.
	ackBase      time.Duration
	ackJitterDur time.Duration

	// Derived connectivity view, recomputed on engine events.
	connected atomic.Bool
	connCount atomic.Int64

	subs []events.Token
	wg   sync.WaitGroup
}

// Option customizes a Bridge.
type Option func(*Bridge)

func WithTrust(t TrustRecorder) Option   { return func(b *Bridge) { b.trust = t } }
func WithOutbox(o Outbox) Option         { return func(b *Bridge) { b.outbox = o } }
func WithLogger(log *slog.Logger) Option { return func(b *Bridge) { b.log = log } }

// New wires a bridge to the mesh engine and consent ledger.
func New(m Mesh, consent ConsentChecker, opts ...Option) *Bridge {
	b := &Bridge{
		node:    m.Node(),
		mesh:    m,
		consent: consent,
		log:     slog.Default(),
		emitter: events.New(),
		pending: make(map[string]*pendingMessage),
		seen: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](dedupTTL),
			ttlcache.WithCapacity[string, struct{}](dedupCapacity),
		),
		ackBase:      ackResendBase,
		ackJitterDur: ackJitter,
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("component", "bridge")
	go b.seen.Start()

	me := m.Events()
	b.subs = append(b.subs,
		me.Subscribe(mesh.EventMessageReceived, b.onInbound),
		me.Subscribe(mesh.EventConnectionStateChanged, func(any) { b.refreshConnectivity() }),
		me.Subscribe(mesh.EventPeerLost, func(any) { b.refreshConnectivity() }),
		me.Subscribe(mesh.EventPeerDiscovered, func(any) { b.refreshConnectivity() }),
	)
	return b
}

// Events exposes the bridge's event surface.
func (b *Bridge) Events() *events.Emitter { return b.emitter }

// IsConnected is the event-derived view of mesh connectivity.
func (b *Bridge) IsConnected() bool { return b.connected.Load() }

// ConnectionCount is the event-derived count of live connections.
func (b *Bridge) ConnectionCount() int { return int(b.connCount.Load()) }

func (b *Bridge) refreshConnectivity() {
	n := b.mesh.ConnectionCount()
	b.connCount.Store(int64(n))
	b.connected.Store(n > 0)
}

// SendFamilyMessage sends content to one family member, gated by the
// messaging consent scope. It returns once the message is handed to the mesh
// layer (queued -> sent); the acknowledgement arrives later via
// EventMessageDeliveryUpdated.
func (b *Bridge) SendFamilyMessage(ctx context.Context, recipientID, content string) error {
	if status := b.consent.CheckConsent(recipientID, models.ScopeMessaging); status != models.ConsentGranted {
		return fmt.Errorf("%w: %s has not granted %s (status %s)",
			ErrConsentDenied, recipientID, models.ScopeMessaging, status)
	}
	msg := b.newMessage(recipientID, models.ScopeMessaging, []byte(content), "")
	return b.deliver(ctx, msg)
}

// BroadcastFamilyStatus fans a status update out to every known family peer.
// Partial failures do not fail the call; each peer's outcome is reported via
// EventBroadcastOutcome. Returns once all sends are initiated.
func (b *Bridge) BroadcastFamilyStatus(ctx context.Context, status string) error {
	return b.broadcast(ctx, models.ScopeStatus, []byte(status), false)
}

// BroadcastEmergency fans emergency details out to every known family peer,
// bypassing consent gating. Best effort under partial connectivity: whichever
// peers are reachable get the message.
func (b *Bridge) BroadcastEmergency(ctx context.Context, details string) error {
	return b.broadcast(ctx, models.ScopeEmergency, []byte(details), true)
}

func (b *Bridge) broadcast(ctx context.Context, scope string, payload []byte, bypassConsent bool) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBridgeClosed
	}

	for _, peer := range b.mesh.Peers() {
		if peer.FamilyID != "" && peer.FamilyID != b.node.FamilyID {
			continue
		}
		peerID := peer.PeerID
		if !bypassConsent {
			if status := b.consent.CheckConsent(peerID, scope); status != models.ConsentGranted {
				b.emitter.Emit(EventBroadcastOutcome, BroadcastOutcome{
					PeerID: peerID,
					Scope:  scope,
					Err:    fmt.Errorf("%w: status %s", ErrConsentDenied, status),
				})
				continue
			}
		}

		msg := b.newMessage(peerID, scope, payload, models.BroadcastFamily)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			err := b.deliver(ctx, msg)
			b.emitter.Emit(EventBroadcastOutcome, BroadcastOutcome{
				MessageID: msg.MessageID,
				PeerID:    msg.RecipientID,
				Scope:     scope,
				Err:       err,
			})
		}()
	}
	return nil
}

func (b *Bridge) newMessage(recipientID, scope string, payload []byte, bscope models.BroadcastScope) models.Message {
	return models.Message{
		MessageID:      uuid.NewString(),
		SenderID:       b.node.NodeID,
		RecipientID:    recipientID,
		BroadcastScope: bscope,
		Scope:          scope,
		Payload:        payload,
		CreatedAt:      time.Now(),
		DeliveryState:  models.DeliveryQueued,
		RetryCount:     defaultRetries,
	}
}

// deliver hands a message to the mesh with handoff retries, then tracks the
// acknowledgement in the background.
func (b *Bridge) deliver(ctx context.Context, msg models.Message) error {
	p := &pendingMessage{
		msg:   msg,
		acked: make(chan struct{}),
		stop:  make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	b.pending[msg.MessageID] = p
	b.mu.Unlock()
	b.emitter.Emit(EventMessageDeliveryUpdated, msg)

	frame, err := b.encodeData(msg)
	if err != nil {
		b.finish(p, models.DeliveryFailed)
		return fmt.Errorf("encoding message: %w", err)
	}

	backoff := retry.WithMaxRetries(handoffMaxRetries,
		retry.WithJitter(handoffJitter, retry.NewExponential(handoffBackoffBase)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		handle, serr := b.mesh.Send(ctx, msg.RecipientID, frame)
		if serr != nil {
			return retry.RetryableError(serr)
		}
		select {
		case serr = <-handle:
		case <-ctx.Done():
			return ctx.Err()
		}
		if serr != nil {
			return retry.RetryableError(serr)
		}
		return nil
	})
	if err != nil {
		b.failDelivery(p)
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, msg.MessageID, err)
	}

	b.advance(p, models.DeliverySent)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.awaitAck(p, frame)
	}()
	return nil
}

// awaitAck resends the frame with exponential backoff and jitter until
// acknowledged or the retry budget runs out.
func (b *Bridge) awaitAck(p *pendingMessage, frame []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.acked:
		case <-p.stop:
		}
		cancel()
	}()

	b.mu.Lock()
	budget := p.msg.RetryCount
	b.mu.Unlock()

	// The first resend only fires a full base interval after the handoff;
	// retry.Do would otherwise invoke it immediately.
	select {
	case <-ctx.Done():
		return
	case <-time.After(b.ackBase):
	}

	backoff := retry.WithMaxRetries(uint64(budget),
		retry.WithJitter(b.ackJitterDur, retry.NewExponential(b.ackBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-p.acked:
			return nil
		case <-p.stop:
			return nil
		default:
		}
		b.mu.Lock()
		p.attempts++
		budgetLeft := p.attempts <= budget
		b.mu.Unlock()
		if !budgetLeft {
			return ErrDeliveryFailed
		}
		b.resendFrame(ctx, p.msg.RecipientID, frame)
		return retry.RetryableError(errAckPending)
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	b.failDelivery(p)
}

func (b *Bridge) resendFrame(ctx context.Context, peerID string, frame []byte) {
	sctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if handle, err := b.mesh.Send(sctx, peerID, frame); err == nil {
		select {
		case <-handle:
		case <-sctx.Done():
		}
	}
}

func (b *Bridge) encodeData(msg models.Message) ([]byte, error) {
	env := wire.Envelope{
		Kind:            wire.KindData,
		MessageID:       msg.MessageID,
		SenderID:        msg.SenderID,
		RecipientID:     msg.RecipientID,
		Scope:           msg.Scope,
		CreatedAtMillis: msg.CreatedAt.UnixMilli(),
		Payload:         msg.Payload,
	}
	return env.Encode()
}

// advance moves a pending message's delivery state forward. Illegal
// regressions are ignored; the state machine is strictly monotonic.
func (b *Bridge) advance(p *pendingMessage, next models.DeliveryState) bool {
	b.mu.Lock()
	if !p.msg.DeliveryState.CanAdvance(next) {
		b.mu.Unlock()
		return false
	}
	p.msg.DeliveryState = next
	snapshot := p.msg
	b.mu.Unlock()
	b.emitter.Emit(EventMessageDeliveryUpdated, snapshot)
	return true
}

// failDelivery marks a message failed, surfaces the event and parks it in
// the outbox for manual resend.
func (b *Bridge) failDelivery(p *pendingMessage) {
	if !b.advance(p, models.DeliveryFailed) {
		return
	}
	b.finish(p, models.DeliveryFailed)

	b.mu.Lock()
	msg := p.msg
	b.mu.Unlock()
	b.log.Warn("delivery failed", "message", msg.MessageID, "recipient", msg.RecipientID)
	if b.outbox != nil {
		if err := b.outbox.Add(msg); err != nil {
			b.log.Error("outbox persist failed", "message", msg.MessageID, "error", err)
		}
	}
	if b.trust != nil {
		b.trust.RecordInteraction(msg.RecipientID, "delivery", false)
	}
}

// finish removes a message from the pending table.
func (b *Bridge) finish(p *pendingMessage, _ models.DeliveryState) {
	b.mu.Lock()
	delete(b.pending, p.msg.MessageID)
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	b.mu.Unlock()
}

// onInbound handles engine-level envelopes: acks settle pending messages,
// data messages are deduplicated, acknowledged and surfaced once.
func (b *Bridge) onInbound(payload any) {
	in, ok := payload.(mesh.Inbound)
	if !ok || in.Envelope == nil {
		return
	}
	env := in.Envelope

	switch env.Kind {
	case wire.KindAck:
		b.handleAck(env.MessageID)
	case wire.KindData:
		b.handleData(env)
	}
}

func (b *Bridge) handleAck(messageID string) {
	b.mu.Lock()
	p, ok := b.pending[messageID]
	b.mu.Unlock()
	if !ok {
		return
	}
	if !b.advance(p, models.DeliveryAcked) {
		return
	}
	b.mu.Lock()
	select {
	case <-p.acked:
	default:
		close(p.acked)
	}
	recipient := p.msg.RecipientID
	b.mu.Unlock()
	b.finish(p, models.DeliveryAcked)
	b.log.Debug("message acknowledged", "message", messageID)
	if b.trust != nil {
		b.trust.RecordInteraction(recipient, "delivery", true)
	}
	if b.outbox != nil {
		b.outbox.Delete(messageID)
	}
}

func (b *Bridge) handleData(env *wire.Envelope) {
	// Always acknowledge, even duplicates: the sender may have missed the
	// first ack.
	b.sendAck(env)

	if b.seen.Has(env.MessageID) {
		b.log.Debug("duplicate message suppressed", "message", env.MessageID)
		return
	}
	b.seen.Set(env.MessageID, struct{}{}, ttlcache.DefaultTTL)

	msg := models.Message{
		MessageID:     env.MessageID,
		SenderID:      env.SenderID,
		RecipientID:   env.RecipientID,
		Scope:         env.Scope,
		Payload:       env.Payload,
		CreatedAt:     time.UnixMilli(env.CreatedAtMillis),
		DeliveryState: models.DeliveryAcked,
	}
	b.emitter.Emit(EventMessageReceived, msg)
}

func (b *Bridge) sendAck(env *wire.Envelope) {
	ack := wire.Envelope{
		Kind:            wire.KindAck,
		MessageID:       env.MessageID,
		SenderID:        b.node.NodeID,
		RecipientID:     env.SenderID,
		CreatedAtMillis: time.Now().UnixMilli(),
	}
	frame, err := ack.Encode()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if handle, err := b.mesh.Send(ctx, env.SenderID, frame); err == nil {
		select {
		case <-handle:
		case <-ctx.Done():
		}
	}
}

// ResendOutbox re-delivers messages parked by exhausted retry budgets.
func (b *Bridge) ResendOutbox(ctx context.Context, msgs []models.Message) {
	for _, msg := range msgs {
		msg.DeliveryState = models.DeliveryQueued
		msg.MessageID = uuid.NewString()
		if err := b.deliver(ctx, msg); err != nil {
			b.log.Warn("outbox resend failed", "recipient", msg.RecipientID, "error", err)
		}
	}
}

// Close fails all pending messages and stops background work. Pending
// entries transition to failed rather than silently vanishing.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pend := make([]*pendingMessage, 0, len(b.pending))
	for _, p := range b.pending {
		pend = append(pend, p)
	}
	b.mu.Unlock()

	for _, p := range pend {
		if b.advance(p, models.DeliveryFailed) {
			b.finish(p, models.DeliveryFailed)
		}
	}
	for _, tok := range b.subs {
		b.mesh.Events().Unsubscribe(tok)
	}
	b.wg.Wait()
	b.seen.Stop()
}
