// Package mesh implements the transport-abstraction engine: peer discovery,
// connection lifecycle and a uniform send/receive surface over whichever
// best-effort transports the device has available.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultPeerTimeout       = 30 * time.Second
	defaultSendQueueDepth    = 32

	// Dial backoff: exponential with jitter, 500ms base, 5 attempts.
	dialBackoffBase = 500 * time.Millisecond
	dialMaxRetries  = 4
	dialJitter      = 100 * time.Millisecond
)

// transportPriority orders transports most-reliable-first for connection
// fallback. The relay comes last: it depends on external connectivity.
var transportPriority = []models.Transport{
	models.TransportWifiDirect,
	models.TransportBluetooth,
	models.TransportInternet,
}

// Config configures the engine for one session.
type Config struct {
	Node              models.Node
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	SendQueueDepth    int
	Logger            *slog.Logger
}

func (c *Config) fillDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = defaultPeerTimeout
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = defaultSendQueueDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type peerEntry struct {
	peer  models.Peer
	addrs map[models.Transport]string
	conns map[models.Transport]*Connection
}

// Engine owns the peer and connection tables exclusively. Everything else
// reads them through accessors or events.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	emitter  *events.Emitter
	adapters map[models.Transport]transport.Adapter

	mu          sync.RWMutex
	peers       map[string]*peerEntry
	lastGood    map[string]models.Transport
	status      models.MeshStatus
	watchers    map[uint64]chan models.Peer
	nextWatcher uint64
	started     bool
	stopped     bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an engine over the given adapters. At least one adapter must be
// supplied or initialization fails with ErrNoTransport.
func New(cfg Config, adapters ...transport.Adapter) (*Engine, error) {
	if len(adapters) == 0 {
		return nil, ErrNoTransport
	}
	cfg.fillDefaults()

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "mesh"),
		emitter:  events.New(),
		adapters: make(map[models.Transport]transport.Adapter, len(adapters)),
		peers:    make(map[string]*peerEntry),
		lastGood: make(map[string]models.Transport),
		status:   models.MeshOffline,
		watchers: make(map[uint64]chan models.Peer),
		stop:     make(chan struct{}),
	}
	for _, a := range adapters {
		e.adapters[a.Kind()] = a
	}
	return e, nil
}

// Events exposes the engine's event surface.
func (e *Engine) Events() *events.Emitter { return e.emitter }

// Node returns the local node identity.
func (e *Engine) Node() models.Node { return e.cfg.Node }

// Start brings up every adapter and begins background discovery. Adapters
// that fail (unsupported radio, unreachable relay) are dropped individually;
// only losing all of them is fatal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.status = models.MeshConnecting
	e.mu.Unlock()
	e.emitter.Emit(EventStatusChanged, models.MeshConnecting)

	handlers := transport.Handlers{
		OnSighting: e.handleSighting,
		OnFrame:    e.handleFrame,
		OnPeerGone: e.handlePeerGone,
	}

	usable := 0
	for kind, a := range e.adapters {
		if err := a.Start(ctx, handlers); err != nil {
			e.log.Warn("transport adapter failed to start, dropping", "kind", kind, "error", err)
			delete(e.adapters, kind)
			continue
		}
		usable++
		e.log.Info("transport adapter started", "kind", kind)
	}
	if usable == 0 {
		e.setStatus(models.MeshOffline)
		return fmt.Errorf("starting mesh: %w", ErrNoTransport)
	}

	e.setStatus(models.MeshOnline)

	e.wg.Add(1)
	go e.heartbeatLoop()
	return nil
}

func (e *Engine) setStatus(s models.MeshStatus) {
	e.mu.Lock()
	if e.status == s {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.mu.Unlock()
	e.emitter.Emit(EventStatusChanged, s)
}

// Status reports the engine's coarse availability.
func (e *Engine) Status() models.MeshStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// IsConnected reports whether at least one connection is live.
func (e *Engine) IsConnected() bool { return e.ConnectionCount() > 0 }

// ConnectionCount counts connections in the connected or degraded state.
func (e *Engine) ConnectionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, pe := range e.peers {
		for _, c := range pe.conns {
			if c.state == models.ConnectionConnected || c.state == models.ConnectionDegraded {
				n++
			}
		}
	}
	return n
}

// Peers returns a snapshot of the peer table.
func (e *Engine) Peers() []models.Peer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Peer, 0, len(e.peers))
	for _, pe := range e.peers {
		out = append(out, pe.peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Peer looks up a single peer snapshot.
func (e *Engine) Peer(peerID string) (models.Peer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pe, ok := e.peers[peerID]
	if !ok {
		return models.Peer{}, false
	}
	return pe.peer, true
}

// Connections returns a snapshot of all live connections.
func (e *Engine) Connections() []ConnectionChange {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ConnectionChange
	for _, pe := range e.peers {
		for _, c := range pe.conns {
			out = append(out, ConnectionChange{
				ConnectionID: c.ID,
				PeerID:       c.PeerID,
				Transport:    c.Transport,
				State:        c.state,
			})
		}
	}
	return out
}

// DiscoverPeers returns a restartable stream of peer sightings: current peers
// first, then live updates until ctx is cancelled or the engine shuts down.
func (e *Engine) DiscoverPeers(ctx context.Context) <-chan models.Peer {
	ch := make(chan models.Peer, 16)

	e.mu.Lock()
	e.nextWatcher++
	id := e.nextWatcher
	e.watchers[id] = ch
	for _, pe := range e.peers {
		select {
		case ch <- pe.peer:
		default:
		}
	}
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.stop:
		}
		// Closing under the same lock senders hold means a sighting can
		// never land on a just-closed channel.
		e.mu.Lock()
		delete(e.watchers, id)
		close(ch)
		e.mu.Unlock()
	}()
	return ch
}

func (e *Engine) notifyWatchers(p models.Peer) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.watchers {
		select {
		case ch <- p:
		default:
			// Slow consumer; sightings are best effort.
		}
	}
}

// handleSighting upserts the peer table from an adapter observation.
func (e *Engine) handleSighting(s transport.Sighting) {
	if s.PeerID == "" || s.PeerID == e.cfg.Node.NodeID {
		return
	}
	// Peers from other families are invisible to this node.
	if s.FamilyID != "" && s.FamilyID != e.cfg.Node.FamilyID {
		return
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	pe, known := e.peers[s.PeerID]
	if !known {
		pe = &peerEntry{
			peer: models.Peer{
				PeerID:      s.PeerID,
				DisplayName: s.DisplayName,
				FamilyID:    s.FamilyID,
				Transport:   s.Transport,
				Quality:     s.Quality,
				State:       models.ConnectionClosed,
			},
			addrs: make(map[models.Transport]string),
			conns: make(map[models.Transport]*Connection),
		}
		e.peers[s.PeerID] = pe
	}
	pe.peer.LastSeenAt = time.Now()
	pe.addrs[s.Transport] = s.Addr
	if s.DisplayName != "" {
		pe.peer.DisplayName = s.DisplayName
	}
	if s.FamilyID != "" {
		pe.peer.FamilyID = s.FamilyID
	}
	if s.Quality > 0 {
		pe.peer.Transport = s.Transport
		pe.peer.Quality = s.Quality
	}
	snapshot := pe.peer
	e.mu.Unlock()

	if !known {
		e.log.Info("peer discovered", "peer", s.PeerID, "transport", s.Transport, "name", s.DisplayName)
		e.emitter.Emit(EventPeerDiscovered, snapshot)
	}
	e.notifyWatchers(snapshot)
}

// handleFrame routes inbound frames: heartbeats and adverts are consumed
// here, data and acks are surfaced to subscribers. Only the connection the
// frame actually arrived on is credited as alive.
func (e *Engine) handleFrame(peerID string, tr models.Transport, frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		e.log.Debug("dropping undecodable frame", "peer", peerID, "error", err)
		return
	}

	e.mu.Lock()
	pe, known := e.peers[peerID]
	if known {
		pe.peer.LastSeenAt = time.Now()
		if c, ok := pe.conns[tr]; ok {
			c.lastInbound = time.Now()
		}
	}
	e.mu.Unlock()

	// Traffic on a degraded connection proves that connection recovered.
	e.recoverDegraded(peerID, tr)

	switch env.Kind {
	case wire.KindHeartbeat:
		return
	case wire.KindAdvert:
		if adv, aerr := wire.ParseAdvert(env.Payload); aerr == nil {
			e.handleSighting(transport.Sighting{
				PeerID:      env.SenderID,
				FamilyID:    env.Scope,
				DisplayName: adv.DisplayName,
				Caps:        adv.Capabilities,
				Transport:   tr,
				Addr:        env.SenderID,
			})
		}
		return
	default:
		e.emitter.Emit(EventMessageReceived, Inbound{Transport: tr, Envelope: env})
	}
}

func (e *Engine) recoverDegraded(peerID string, tr models.Transport) {
	var recovered *Connection
	e.mu.Lock()
	if pe, ok := e.peers[peerID]; ok {
		if c, ok := pe.conns[tr]; ok && c.state == models.ConnectionDegraded {
			c.state = models.ConnectionConnected
			recovered = c
		}
	}
	e.mu.Unlock()
	if recovered != nil {
		e.emitConnectionChange(recovered, models.ConnectionConnected)
	}
}

// handlePeerGone reacts to an adapter's positive departure signal.
func (e *Engine) handlePeerGone(peerID string) {
	e.removePeer(peerID, "transport reported peer gone")
}

func (e *Engine) removePeer(peerID, reason string) {
	e.mu.Lock()
	pe, ok := e.peers[peerID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.peers, peerID)
	conns := make([]*Connection, 0, len(pe.conns))
	for _, c := range pe.conns {
		if c.state != models.ConnectionClosed {
			c.state = models.ConnectionClosed
			conns = append(conns, c)
		}
	}
	snapshot := pe.peer
	snapshot.State = models.ConnectionClosed
	e.mu.Unlock()

	for _, c := range conns {
		c.shutdownQueue()
		if link := c.currentLink(); link != nil {
			link.Close()
		}
		e.emitConnectionChange(c, models.ConnectionClosed)
	}
	e.log.Info("peer lost", "peer", peerID, "reason", reason)
	e.emitter.Emit(EventPeerLost, snapshot)
}

func (e *Engine) emitConnectionChange(c *Connection, state models.ConnectionState) {
	e.emitter.Emit(EventConnectionStateChanged, ConnectionChange{
		ConnectionID: c.ID,
		PeerID:       c.PeerID,
		Transport:    c.Transport,
		State:        state,
	})
}

// transportOrder builds the fallback order for a peer: explicit preference
// first, then whichever transport last succeeded, then priority order.
func (e *Engine) transportOrder(peerID string, preferred models.Transport) []models.Transport {
	e.mu.RLock()
	last, hasLast := e.lastGood[peerID]
	e.mu.RUnlock()

	var order []models.Transport
	seen := make(map[models.Transport]bool)
	push := func(t models.Transport) {
		if t == "" || seen[t] {
			return
		}
		if _, ok := e.adapters[t]; !ok {
			return
		}
		seen[t] = true
		order = append(order, t)
	}
	push(preferred)
	if hasLast {
		push(last)
	}
	for _, t := range transportPriority {
		push(t)
	}
	return order
}

// Connect establishes a connection to a peer, trying transports in fallback
// order. Returns the first connection that reaches the connected state.
func (e *Engine) Connect(ctx context.Context, peerID string, preferred models.Transport) (*Connection, error) {
	e.mu.RLock()
	stopped := e.stopped
	pe, known := e.peers[peerID]
	var addrs map[models.Transport]string
	if known {
		addrs = make(map[models.Transport]string, len(pe.addrs))
		for k, v := range pe.addrs {
			addrs[k] = v
		}
	}
	e.mu.RUnlock()

	if stopped {
		return nil, ErrEngineClosed
	}
	if !known {
		return nil, fmt.Errorf("%w: %s: %w", ErrPeerUnreachable, peerID, ErrUnknownPeer)
	}

	var lastErr error
	for _, tr := range e.transportOrder(peerID, preferred) {
		addr, ok := addrs[tr]
		if !ok {
			continue
		}
		if c := e.liveConnection(peerID, tr); c != nil {
			return c, nil
		}
		c, err := e.dial(ctx, peerID, tr, addr)
		if err != nil {
			lastErr = err
			continue
		}
		return c, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable transport for peer")
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrPeerUnreachable, peerID, lastErr)
}

func (e *Engine) liveConnection(peerID string, tr models.Transport) *Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pe, ok := e.peers[peerID]
	if !ok {
		return nil
	}
	if c, ok := pe.conns[tr]; ok &&
		(c.state == models.ConnectionConnected || c.state == models.ConnectionDegraded) {
		return c
	}
	return nil
}

// bestConnection picks the healthiest live connection for a peer, preferring
// the last-good transport, then priority order, connected over degraded.
func (e *Engine) bestConnection(peerID string) *Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pe, ok := e.peers[peerID]
	if !ok {
		return nil
	}
	var degraded *Connection
	order := make([]models.Transport, 0, len(transportPriority)+1)
	if last, ok := e.lastGood[peerID]; ok {
		order = append(order, last)
	}
	order = append(order, transportPriority...)
	for _, tr := range order {
		if c, ok := pe.conns[tr]; ok {
			switch c.state {
			case models.ConnectionConnected:
				return c
			case models.ConnectionDegraded:
				if degraded == nil {
					degraded = c
				}
			}
		}
	}
	return degraded
}

// dial attempts one transport with exponential backoff and jitter.
func (e *Engine) dial(ctx context.Context, peerID string, tr models.Transport, addr string) (*Connection, error) {
	adapter := e.adapters[tr]

	c := newConnection(e, peerID, tr)
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if pe, ok := e.peers[peerID]; ok {
		pe.conns[tr] = c
	}
	e.mu.Unlock()
	e.emitConnectionChange(c, models.ConnectionConnecting)

	backoff := retry.WithMaxRetries(dialMaxRetries,
		retry.WithJitter(dialJitter, retry.NewExponential(dialBackoffBase)))

	var link transport.Link
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		l, derr := adapter.Dial(ctx, peerID, addr)
		if derr != nil {
			// Transient transport errors are retried; exhausting the
			// budget fails this transport only.
			return retry.RetryableError(derr)
		}
		link = l
		return nil
	})
	if err != nil {
		e.closeConnection(c, "dial failed")
		return nil, fmt.Errorf("dial %s via %s: %w", peerID, tr, err)
	}

	now := time.Now()
	e.mu.Lock()
	c.state = models.ConnectionConnected
	c.EstablishedAt = now
	c.lastInbound = now
	e.lastGood[peerID] = tr
	if pe, ok := e.peers[peerID]; ok {
		pe.peer.Transport = tr
		pe.peer.State = models.ConnectionConnected
	}
	e.mu.Unlock()
	c.attach(link)
	e.emitConnectionChange(c, models.ConnectionConnected)
	e.log.Info("connection established", "peer", peerID, "transport", tr)
	return c, nil
}

// Send queues a frame to a peer, connecting first if necessary. It returns a
// handle immediately; the handle resolves when transmission settles.
func (e *Engine) Send(ctx context.Context, peerID string, frame []byte) (<-chan error, error) {
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return nil, ErrEngineClosed
	}

	result := make(chan error, 1)
	if c := e.bestConnection(peerID); c != nil {
		if err := c.enqueue(frame, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	// No live connection: connect asynchronously, then queue.
	go func() {
		c, err := e.Connect(ctx, peerID, "")
		if err != nil {
			result <- err
			return
		}
		if err := c.enqueue(frame, result); err != nil {
			result <- err
		}
	}()
	return result, nil
}

// degradeConnection is invoked by a connection writer after repeated link
// failures. The engine tries a silent reconnect before declaring it closed.
func (e *Engine) degradeConnection(c *Connection) {
	e.mu.Lock()
	if c.state != models.ConnectionConnected {
		e.mu.Unlock()
		return
	}
	c.state = models.ConnectionDegraded
	if pe, ok := e.peers[c.PeerID]; ok {
		pe.peer.State = models.ConnectionDegraded
	}
	e.mu.Unlock()
	e.emitConnectionChange(c, models.ConnectionDegraded)
	e.log.Warn("connection degraded", "peer", c.PeerID, "transport", c.Transport)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.silentReconnect(c)
	}()
}

// silentReconnect re-dials a degraded connection's transport in place. On
// failure the connection is closed.
func (e *Engine) silentReconnect(c *Connection) {
	e.mu.RLock()
	var addr string
	if pe, ok := e.peers[c.PeerID]; ok {
		addr = pe.addrs[c.Transport]
	}
	adapter := e.adapters[c.Transport]
	e.mu.RUnlock()
	if adapter == nil {
		e.closeConnection(c, "transport gone")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	backoff := retry.WithMaxRetries(dialMaxRetries,
		retry.WithJitter(dialJitter, retry.NewExponential(dialBackoffBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		l, derr := adapter.Dial(ctx, c.PeerID, addr)
		if derr != nil {
			return retry.RetryableError(derr)
		}
		c.swapLink(l)
		return nil
	})
	if err != nil {
		e.closeConnection(c, "silent reconnect failed")
		return
	}

	e.mu.Lock()
	if c.state == models.ConnectionDegraded {
		c.state = models.ConnectionConnected
		if pe, ok := e.peers[c.PeerID]; ok {
			pe.peer.State = models.ConnectionConnected
		}
	}
	e.mu.Unlock()
	e.emitConnectionChange(c, models.ConnectionConnected)
	e.log.Info("connection recovered", "peer", c.PeerID, "transport", c.Transport)
}

// closeConnection finishes a connection. Pending sends fail with
// ErrConnectionClosed; if the peer has no other live connections and has been
// silent past the timeout, it is pruned with a peer-lost event.
func (e *Engine) closeConnection(c *Connection, reason string) {
	e.mu.Lock()
	if c.state == models.ConnectionClosed {
		e.mu.Unlock()
		return
	}
	c.state = models.ConnectionClosed
	var peerSilent bool
	if pe, ok := e.peers[c.PeerID]; ok {
		delete(pe.conns, c.Transport)
		live := false
		for _, other := range pe.conns {
			if other.state == models.ConnectionConnected || other.state == models.ConnectionDegraded {
				live = true
				break
			}
		}
		if !live {
			pe.peer.State = models.ConnectionClosed
			peerSilent = time.Since(pe.peer.LastSeenAt) > e.cfg.PeerTimeout
		}
	}
	e.mu.Unlock()

	c.shutdownQueue()
	if link := c.currentLink(); link != nil {
		link.Close()
	}
	e.emitConnectionChange(c, models.ConnectionClosed)
	e.log.Info("connection closed", "peer", c.PeerID, "transport", c.Transport, "reason", reason)

	if peerSilent {
		e.removePeer(c.PeerID, "silence timeout")
	}
}

// heartbeatLoop sends keepalives, degrades quiet connections and prunes
// peers that have been silent past the timeout.
func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.heartbeatPass()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) heartbeatPass() {
	now := time.Now()
	frame, err := (&wire.Envelope{
		Kind:            wire.KindHeartbeat,
		SenderID:        e.cfg.Node.NodeID,
		CreatedAtMillis: now.UnixMilli(),
	}).Encode()
	if err != nil {
		return
	}

	type connAction struct {
		conn    *Connection
		degrade bool
		close   bool
	}
	var actions []connAction
	var stale []string

	e.mu.Lock()
	for peerID, pe := range e.peers {
		hasLive := false
		for _, c := range pe.conns {
			switch c.state {
			case models.ConnectionConnected:
				hasLive = true
				if now.Sub(c.lastInbound) > 2*e.cfg.HeartbeatInterval {
					actions = append(actions, connAction{conn: c, degrade: true})
				} else {
					actions = append(actions, connAction{conn: c})
				}
			case models.ConnectionDegraded:
				hasLive = true
				if now.Sub(c.lastInbound) > e.cfg.PeerTimeout {
					actions = append(actions, connAction{conn: c, close: true})
				}
			}
		}
		if !hasLive && now.Sub(pe.peer.LastSeenAt) > e.cfg.PeerTimeout {
			stale = append(stale, peerID)
		}
	}
	e.mu.Unlock()

	for _, a := range actions {
		switch {
		case a.close:
			e.closeConnection(a.conn, "heartbeat timeout")
		case a.degrade:
			e.degradeConnection(a.conn)
		default:
			res := make(chan error, 1)
			if err := a.conn.enqueue(frame, res); err == nil {
				go func() { <-res }()
			}
		}
	}
	for _, peerID := range stale {
		e.removePeer(peerID, "silence timeout")
	}
}

// Shutdown closes all connections, stops discovery and releases the
// adapters. Pending sends fail rather than silently vanish. Idempotent.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		var conns []*Connection
		for _, pe := range e.peers {
			for _, c := range pe.conns {
				if c.state != models.ConnectionClosed {
					c.state = models.ConnectionClosed
					conns = append(conns, c)
				}
			}
			pe.conns = make(map[models.Transport]*Connection)
		}
		e.mu.Unlock()

		for _, c := range conns {
			c.shutdownQueue()
			if link := c.currentLink(); link != nil {
				link.Close()
			}
			e.emitConnectionChange(c, models.ConnectionClosed)
		}

		close(e.stop)
		for kind, a := range e.adapters {
			if err := a.Stop(); err != nil {
				e.log.Warn("adapter stop failed", "kind", kind, "error", err)
			}
		}
		e.wg.Wait()
		e.setStatus(models.MeshOffline)
		e.log.Info("mesh engine stopped")
	})
}
