package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/mesh"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

type fakeMesh struct {
	node    models.Node
	emitter *events.Emitter

	mu      sync.Mutex
	sent    [][]byte
	peers   []models.Peer
	sendErr error
}

func newFakeMesh(nodeID string) *fakeMesh {
	return &fakeMesh{
		node:    models.Node{NodeID: nodeID, UserID: nodeID, FamilyID: "fam-1"},
		emitter: events.New(),
	}
}

func (f *fakeMesh) Node() models.Node       { return f.node }
func (f *fakeMesh) Peers() []models.Peer    { f.mu.Lock(); defer f.mu.Unlock(); return f.peers }
func (f *fakeMesh) ConnectionCount() int    { return 1 }
func (f *fakeMesh) Events() *events.Emitter { return f.emitter }

func (f *fakeMesh) Send(_ context.Context, _ string, frame []byte) (<-chan error, error) {
	f.mu.Lock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	err := f.sendErr
	f.mu.Unlock()

	ch := make(chan error, 1)
	ch <- err
	return ch, nil
}

func (f *fakeMesh) sentEnvelopes(t *testing.T) []*wire.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Envelope, 0, len(f.sent))
	for _, frame := range f.sent {
		env, err := wire.Decode(frame)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// deliverInbound simulates an envelope arriving from the engine.
func (f *fakeMesh) deliverInbound(env *wire.Envelope) {
	f.emitter.Emit(mesh.EventMessageReceived, mesh.Inbound{Transport: models.TransportWifiDirect, Envelope: env})
}

type stubConsent struct {
	status models.ConsentStatus
}

func (s stubConsent) CheckConsent(string, string) models.ConsentStatus { return s.status }

type recordingTrust struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingTrust) RecordInteraction(_, _ string, positive bool) (models.TrustProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, positive)
	return models.TrustProfile{}, nil
}

type memOutbox struct {
	mu   sync.Mutex
	msgs map[string]models.Message
}

func newMemOutbox() *memOutbox { return &memOutbox{msgs: make(map[string]models.Message)} }

func (o *memOutbox) Add(msg models.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs[msg.MessageID] = msg
	return nil
}

func (o *memOutbox) Delete(messageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.msgs, messageID)
	return nil
}

func (o *memOutbox) size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.DeliveryState
}

func (r *stateRecorder) record(payload any) {
	msg, ok := payload.(models.Message)
	if !ok {
		return
	}
	r.mu.Lock()
	r.states = append(r.states, msg.DeliveryState)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []models.DeliveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.DeliveryState(nil), r.states...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSendFamilyMessageDeniedWithoutConsent(t *testing.T) {
	fm := newFakeMesh("alice")
	b := New(fm, stubConsent{status: models.ConsentRequested})
	defer b.Close()

	err := b.SendFamilyMessage(context.Background(), "bob", "hi")
	assert.ErrorIs(t, err, ErrConsentDenied)
	assert.Empty(t, fm.sentEnvelopes(t), "a denied send must never reach the mesh")
}

func TestSendFamilyMessageDeliversAndAcks(t *testing.T) {
	fm := newFakeMesh("alice")
	tr := &recordingTrust{}
	b := New(fm, stubConsent{status: models.ConsentGranted}, WithTrust(tr))
	defer b.Close()

	rec := &stateRecorder{}
	b.Events().Subscribe(EventMessageDeliveryUpdated, rec.record)

	require.NoError(t, b.SendFamilyMessage(context.Background(), "bob", "hello"))

	sent := fm.sentEnvelopes(t)
	require.Len(t, sent, 1)
	env := sent[0]
	assert.Equal(t, wire.KindData, env.Kind)
	assert.Equal(t, "alice", env.SenderID)
	assert.Equal(t, "bob", env.RecipientID)
	assert.Equal(t, models.ScopeMessaging, env.Scope)
	assert.Equal(t, []byte("hello"), env.Payload)

	// Recipient acknowledges.
	fm.deliverInbound(&wire.Envelope{
		Kind:      wire.KindAck,
		MessageID: env.MessageID,
		SenderID:  "bob",
	})

	assert.Equal(t,
		[]models.DeliveryState{models.DeliveryQueued, models.DeliverySent, models.DeliveryAcked},
		rec.snapshot())

	tr.mu.Lock()
	require.Len(t, tr.calls, 1)
	assert.True(t, tr.calls[0])
	tr.mu.Unlock()
}

func TestDuplicateAckIsIgnored(t *testing.T) {
	fm := newFakeMesh("alice")
	b := New(fm, stubConsent{status: models.ConsentGranted})
	defer b.Close()

	rec := &stateRecorder{}
	b.Events().Subscribe(EventMessageDeliveryUpdated, rec.record)

	require.NoError(t, b.SendFamilyMessage(context.Background(), "bob", "hello"))
	env := fm.sentEnvelopes(t)[0]

	ack := &wire.Envelope{Kind: wire.KindAck, MessageID: env.MessageID, SenderID: "bob"}
	fm.deliverInbound(ack)
	fm.deliverInbound(ack)

	states := rec.snapshot()
	assert.Equal(t,
		[]models.DeliveryState{models.DeliveryQueued, models.DeliverySent, models.DeliveryAcked},
		states, "a duplicate ack must not produce another transition")
}

func TestInboundDuplicatesAckedButDeliveredOnce(t *testing.T) {
	fm := newFakeMesh("alice")
	b := New(fm, stubConsent{status: models.ConsentGranted})
	defer b.Close()

	var mu sync.Mutex
	var received []models.Message
	b.Events().Subscribe(EventMessageReceived, func(payload any) {
		mu.Lock()
		received = append(received, payload.(models.Message))
		mu.Unlock()
	})

	data := &wire.Envelope{
		Kind:            wire.KindData,
		MessageID:       "m-1",
		SenderID:        "bob",
		RecipientID:     "alice",
		Scope:           models.ScopeMessaging,
		CreatedAtMillis: time.Now().UnixMilli(),
		Payload:         []byte("hi"),
	}
	fm.deliverInbound(data)
	fm.deliverInbound(data)
	fm.deliverInbound(data)

	mu.Lock()
	assert.Len(t, received, 1, "duplicates must be suppressed")
	mu.Unlock()

	// Every copy is acknowledged so the sender stops resending.
	acks := 0
	for _, env := range fm.sentEnvelopes(t) {
		if env.Kind == wire.KindAck && env.MessageID == "m-1" {
			acks++
		}
	}
	assert.Equal(t, 3, acks)
}

func TestExhaustedRetriesParkInOutbox(t *testing.T) {
	fm := newFakeMesh("alice")
	fm.sendErr = context.DeadlineExceeded
	tr := &recordingTrust{}
	outbox := newMemOutbox()
	b := New(fm, stubConsent{status: models.ConsentGranted}, WithTrust(tr), WithOutbox(outbox))
	defer b.Close()

	rec := &stateRecorder{}
	b.Events().Subscribe(EventMessageDeliveryUpdated, rec.record)

	err := b.SendFamilyMessage(context.Background(), "bob", "hello")
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, models.DeliveryFailed, states[len(states)-1])
	assert.Equal(t, 1, outbox.size())

	tr.mu.Lock()
	require.Len(t, tr.calls, 1)
	assert.False(t, tr.calls[0])
	tr.mu.Unlock()
}

func TestUnackedResendsBackOffThenFail(t *testing.T) {
	fm := newFakeMesh("alice")
	outbox := newMemOutbox()
	b := New(fm, stubConsent{status: models.ConsentGranted}, WithOutbox(outbox))
	b.ackBase = 10 * time.Millisecond
	b.ackJitterDur = time.Millisecond
	defer b.Close()

	rec := &stateRecorder{}
	b.Events().Subscribe(EventMessageDeliveryUpdated, rec.record)

	require.NoError(t, b.SendFamilyMessage(context.Background(), "bob", "hello"))

	waitFor(t, 2*time.Second, func() bool {
		states := rec.snapshot()
		return len(states) > 0 && states[len(states)-1] == models.DeliveryFailed
	})

	// One initial transmission plus one resend per retry budget slot.
	assert.Len(t, fm.sentEnvelopes(t), 1+defaultRetries)
	assert.Equal(t, 1, outbox.size())
}

func TestBroadcastSkipsUngrantedPeers(t *testing.T) {
	fm := newFakeMesh("alice")
	fm.peers = []models.Peer{
		{PeerID: "bob", FamilyID: "fam-1"},
		{PeerID: "carol", FamilyID: "fam-1"},
		{PeerID: "stranger", FamilyID: "fam-2"},
	}
	b := New(fm, stubConsent{status: models.ConsentRequested})
	defer b.Close()

	var mu sync.Mutex
	var outcomes []BroadcastOutcome
	done := make(chan struct{}, 4)
	b.Events().Subscribe(EventBroadcastOutcome, func(payload any) {
		mu.Lock()
		outcomes = append(outcomes, payload.(BroadcastOutcome))
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, b.BroadcastFamilyStatus(context.Background(), "all good"))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("missing broadcast outcome")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 2, "peers outside the family are not targets")
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, ErrConsentDenied)
	}
	assert.Empty(t, fm.sentEnvelopes(t))
}

func TestBroadcastEmergencyBypassesConsent(t *testing.T) {
	fm := newFakeMesh("alice")
	fm.peers = []models.Peer{
		{PeerID: "bob", FamilyID: "fam-1"},
		{PeerID: "carol", FamilyID: "fam-1"},
	}
	b := New(fm, stubConsent{status: models.ConsentDenied})
	defer b.Close()

	var mu sync.Mutex
	var outcomes []BroadcastOutcome
	done := make(chan struct{}, 2)
	b.Events().Subscribe(EventBroadcastOutcome, func(payload any) {
		mu.Lock()
		outcomes = append(outcomes, payload.(BroadcastOutcome))
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, b.BroadcastEmergency(context.Background(), "SOS"))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("missing broadcast outcome")
		}
	}

	mu.Lock()
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}
	mu.Unlock()

	targets := map[string]bool{}
	for _, env := range fm.sentEnvelopes(t) {
		assert.Equal(t, models.ScopeEmergency, env.Scope)
		targets[env.RecipientID] = true
	}
	assert.True(t, targets["bob"])
	assert.True(t, targets["carol"])
}

func TestCloseFailsPendingMessages(t *testing.T) {
	fm := newFakeMesh("alice")
	outbox := newMemOutbox()
	b := New(fm, stubConsent{status: models.ConsentGranted}, WithOutbox(outbox))

	require.NoError(t, b.SendFamilyMessage(context.Background(), "bob", "hello"))

	rec := &stateRecorder{}
	b.Events().Subscribe(EventMessageDeliveryUpdated, rec.record)
	b.Close()

	states := rec.snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, models.DeliveryFailed, states[0])

	assert.ErrorIs(t, b.SendFamilyMessage(context.Background(), "bob", "again"), ErrBridgeClosed)
}
