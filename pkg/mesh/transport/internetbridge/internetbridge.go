// Package internetbridge implements the internet-relay transport: peers that
// are out of radio range exchange frames through an MQTT relay. Discovery
// uses retained adverts; a last-will clears the advert so other peers learn
// about disappearances promptly.
package internetbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

const (
	defaultRoot    = "sonny"
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// relayQuality is the synthetic link quality reported for relay peers.
	// The relay is reliable but defeats the point of opportunistic mesh,
	// so it ranks below any live radio sighting.
	relayQuality = 40
)

// Options configures the relay adapter.
type Options struct {
	BrokerURL string
	Username  string
	Password  string
	// Root is the topic root, "sonny" when empty.
	Root   string
	Node   models.Node
	Logger *slog.Logger
}

// Adapter is the internet-bridge transport adapter.
type Adapter struct {
	opts   Options
	root   string
	log    *slog.Logger
	client mqtt.Client

	mu       sync.Mutex
	handlers transport.Handlers
	started  bool
}

func New(opts Options) *Adapter {
	root := opts.Root
	if root == "" {
		root = defaultRoot
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{opts: opts, root: root, log: log.With("transport", "internet")}
}

func (a *Adapter) Kind() models.Transport { return models.TransportInternet }

func (a *Adapter) advertTopic(nodeID string) string {
	return fmt.Sprintf("%s/%s/advert/%s", a.root, a.opts.Node.FamilyID, nodeID)
}

func (a *Adapter) inboxTopic(nodeID string) string {
	return fmt.Sprintf("%s/%s/node/%s", a.root, a.opts.Node.FamilyID, nodeID)
}

// Start connects to the relay, subscribes to the family advert and own inbox
// topics, and publishes a retained advert.
func (a *Adapter) Start(ctx context.Context, h transport.Handlers) error {
	if a.opts.BrokerURL == "" {
		return fmt.Errorf("%w: no relay broker configured", transport.ErrUnsupported)
	}

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.handlers = h
	a.started = true
	a.mu.Unlock()

	opts := mqtt.NewClientOptions().
		AddBroker(a.opts.BrokerURL).
		SetClientID("sonny-"+a.opts.Node.NodeID).
		SetUsername(a.opts.Username).
		SetPassword(a.opts.Password).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		// Empty retained payload clears our advert when we vanish.
		SetBinaryWill(a.advertTopic(a.opts.Node.NodeID), nil, 1, true).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			a.log.Warn("relay connection lost", "error", err)
		})

	a.client = mqtt.NewClient(opts)
	tok := a.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("relay connect timed out after %s", connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("relay connect: %w", err)
	}
	return nil
}

// onConnect runs on every (re)connect: paho drops subscriptions on clean
// sessions, so they are re-established here, and the advert re-published.
func (a *Adapter) onConnect(c mqtt.Client) {
	advertFilter := fmt.Sprintf("%s/%s/advert/+", a.root, a.opts.Node.FamilyID)
	if tok := c.Subscribe(advertFilter, 1, a.handleAdvert); tok.Wait() && tok.Error() != nil {
		a.log.Error("advert subscribe failed", "error", tok.Error())
	}
	if tok := c.Subscribe(a.inboxTopic(a.opts.Node.NodeID), 1, a.handleFrame); tok.Wait() && tok.Error() != nil {
		a.log.Error("inbox subscribe failed", "error", tok.Error())
	}
	if err := a.publishAdvert(); err != nil {
		a.log.Error("advert publish failed", "error", err)
	}
	a.log.Info("relay connected", "broker", a.opts.BrokerURL)
}

func (a *Adapter) publishAdvert() error {
	payload, err := wire.BuildAdvert(wire.Advert{
		Capabilities: a.opts.Node.Capabilities,
		DisplayName:  a.opts.Node.DisplayName,
	})
	if err != nil {
		return err
	}
	env := wire.Envelope{
		Kind:            wire.KindAdvert,
		SenderID:        a.opts.Node.NodeID,
		Scope:           a.opts.Node.FamilyID,
		CreatedAtMillis: time.Now().UnixMilli(),
		Payload:         payload,
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	tok := a.client.Publish(a.advertTopic(a.opts.Node.NodeID), 1, true, frame)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("advert publish timed out")
	}
	return tok.Error()
}

func (a *Adapter) handleAdvert(_ mqtt.Client, m mqtt.Message) {
	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()

	// A cleared advert (empty retained payload) means the peer is gone.
	if len(m.Payload()) == 0 {
		if id := topicTail(m.Topic()); id != "" && id != a.opts.Node.NodeID && h.OnPeerGone != nil {
			h.OnPeerGone(id)
		}
		return
	}

	env, err := wire.Decode(m.Payload())
	if err != nil || env.Kind != wire.KindAdvert {
		a.log.Debug("ignoring malformed advert", "topic", m.Topic(), "error", err)
		return
	}
	if env.SenderID == a.opts.Node.NodeID {
		return
	}
	adv, err := wire.ParseAdvert(env.Payload)
	if err != nil {
		a.log.Debug("ignoring malformed advert payload", "error", err)
		return
	}
	if h.OnSighting != nil {
		h.OnSighting(transport.Sighting{
			PeerID:      env.SenderID,
			FamilyID:    env.Scope,
			DisplayName: adv.DisplayName,
			Caps:        adv.Capabilities,
			Transport:   models.TransportInternet,
			Quality:     relayQuality,
			Addr:        env.SenderID,
		})
	}
}

func (a *Adapter) handleFrame(_ mqtt.Client, m mqtt.Message) {
	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()

	env, err := wire.Decode(m.Payload())
	if err != nil {
		a.log.Debug("dropping malformed frame", "error", err)
		return
	}
	if h.OnFrame != nil {
		h.OnFrame(env.SenderID, models.TransportInternet, m.Payload())
	}
}

// Dial returns a link that publishes frames to the peer's inbox topic. The
// relay delivers QoS1 publishes in order per topic, which satisfies the
// per-link FIFO contract.
func (a *Adapter) Dial(_ context.Context, peerID, _ string) (transport.Link, error) {
	if a.client == nil || !a.client.IsConnectionOpen() {
		return nil, fmt.Errorf("relay not connected")
	}
	return &relayLink{adapter: a, peerID: peerID}, nil
}

// Stop clears the retained advert and disconnects from the relay.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()
	if !started || a.client == nil {
		return nil
	}
	if a.client.IsConnectionOpen() {
		tok := a.client.Publish(a.advertTopic(a.opts.Node.NodeID), 1, true, []byte{})
		tok.WaitTimeout(publishTimeout)
	}
	a.client.Disconnect(250)
	return nil
}

type relayLink struct {
	adapter *Adapter
	peerID  string
	mu      sync.Mutex
	closed  bool
}

func (l *relayLink) PeerID() string              { return l.peerID }
func (l *relayLink) Transport() models.Transport { return models.TransportInternet }

func (l *relayLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrLinkClosed
	}

	timeout := publishTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	tok := l.adapter.client.Publish(l.adapter.inboxTopic(l.peerID), 1, false, frame)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("relay publish to %s timed out", l.peerID)
	}
	return tok.Error()
}

func (l *relayLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func topicTail(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
