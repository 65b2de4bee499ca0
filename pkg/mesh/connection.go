package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

const sendTimeout = 5 * time.Second

// consecutive link failures before the engine gives up on a connection
const maxLinkFailures = 3

type outFrame struct {
	frame  []byte
	result chan error
}

// Connection is one active link to a peer over one transport. The engine
// owns all state transitions; the writer goroutine owns the link.
type Connection struct {
	ID            string
	PeerID        string
	Transport     models.Transport
	EstablishedAt time.Time

	engine *Engine

	// guarded by engine.mu
	state       models.ConnectionState
	lastInbound time.Time

	qmu    sync.Mutex
	closed bool
	sendQ  chan outFrame

	linkMu sync.Mutex
	link   transport.Link
}

func newConnection(e *Engine, peerID string, tr models.Transport) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		PeerID:    peerID,
		Transport: tr,
		engine:    e,
		state:     models.ConnectionConnecting,
		sendQ:     make(chan outFrame, e.cfg.SendQueueDepth),
	}
}

// attach installs the dialed link and starts the writer.
func (c *Connection) attach(link transport.Link) {
	c.linkMu.Lock()
	c.link = link
	c.linkMu.Unlock()
	go c.writer()
}

func (c *Connection) currentLink() transport.Link {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.link
}

// swapLink replaces the link after a silent reconnection.
func (c *Connection) swapLink(link transport.Link) {
	c.linkMu.Lock()
	old := c.link
	c.link = link
	c.linkMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// enqueue queues a frame for transmission. The result channel receives the
// transmission outcome exactly once.
func (c *Connection) enqueue(frame []byte, result chan error) error {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.sendQ <- outFrame{frame: frame, result: result}:
		return nil
	default:
		return ErrQueueFull
	}
}

// shutdownQueue marks the connection closed and lets the writer drain
// pending frames with an error instead of silently dropping them.
func (c *Connection) shutdownQueue() {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return
	}
	c.closed = true
	close(c.sendQ)
	c.qmu.Unlock()
}

func (c *Connection) isClosed() bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.closed
}

// writer drains the outbound queue in FIFO order. It exits when the queue is
// closed, failing any frames still pending at that point.
func (c *Connection) writer() {
	failures := 0
	for f := range c.sendQ {
		if c.isClosed() {
			f.result <- ErrConnectionClosed
			continue
		}
		link := c.currentLink()
		if link == nil {
			f.result <- ErrConnectionClosed
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := link.Send(ctx, f.frame)
		cancel()
		f.result <- err
		if err != nil {
			failures++
			if failures >= maxLinkFailures {
				c.engine.degradeConnection(c)
				failures = 0
			}
		} else {
			failures = 0
		}
	}
}
