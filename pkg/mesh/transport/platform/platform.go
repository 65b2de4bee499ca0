// Package platform adapts a host-supplied radio stack (BLE or Wi-Fi Direct)
// to the transport.Adapter interface. The host provides scanning and raw
// streams; this package adds frame delimiting and the advert handshake.
package platform

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

const maxFrameSize = 128 * 1024

// Driver is implemented by the host platform's radio stack.
type Driver interface {
	// Supported reports whether the radio is present and enabled.
	Supported() bool
	// Scan runs discovery until ctx is done, invoking found for every
	// sighting. Quality is a 0-100 RSSI-derived estimate.
	Scan(ctx context.Context, found func(peerID, name, addr string, quality int)) error
	// Open establishes a raw bidirectional stream to a previously
	// discovered address.
	Open(ctx context.Context, addr string) (io.ReadWriteCloser, error)
	// Accept blocks for the next inbound stream, returning the remote
	// peer id and the stream. Returns an error once the driver is closed.
	Accept(ctx context.Context) (peerID string, stream io.ReadWriteCloser, err error)
	Close() error
}

// Adapter wraps a Driver as a mesh transport.
type Adapter struct {
	kind   models.Transport
	driver Driver
	node   models.Node
	log    *slog.Logger

	mu       sync.Mutex
	handlers transport.Handlers
	runCtx   context.Context
	cancel   context.CancelFunc
	started  bool
}

// New builds an adapter of the given kind (TransportBluetooth or
// TransportWifiDirect) over a host driver.
func New(kind models.Transport, node models.Node, driver Driver, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{kind: kind, driver: driver, node: node, log: log.With("transport", string(kind))}
}

func (a *Adapter) Kind() models.Transport { return a.kind }

// Start verifies radio support and launches the scan and accept loops.
func (a *Adapter) Start(ctx context.Context, h transport.Handlers) error {
	if a.driver == nil || !a.driver.Supported() {
		return fmt.Errorf("%w: %s", transport.ErrUnsupported, a.kind)
	}

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.handlers = h
	a.runCtx = runCtx
	a.cancel = cancel
	a.started = true
	a.mu.Unlock()

	go a.scanLoop(runCtx)
	go a.acceptLoop(runCtx)
	return nil
}

func (a *Adapter) scanLoop(ctx context.Context) {
	for ctx.Err() == nil {
		err := a.driver.Scan(ctx, func(peerID, name, addr string, quality int) {
			a.mu.Lock()
			h := a.handlers
			a.mu.Unlock()
			if h.OnSighting != nil {
				h.OnSighting(transport.Sighting{
					PeerID:      peerID,
					DisplayName: name,
					Transport:   a.kind,
					Quality:     quality,
					Addr:        addr,
				})
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.log.Warn("scan pass failed, restarting", "error", err)
			time.Sleep(time.Second)
		}
	}
}

func (a *Adapter) acceptLoop(ctx context.Context) {
	for ctx.Err() == nil {
		peerID, stream, err := a.driver.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Warn("accept failed", "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		go a.readLoop(ctx, peerID, stream)
	}
}

// readLoop delivers delimited frames from a stream until it breaks.
func (a *Adapter) readLoop(ctx context.Context, peerID string, stream io.ReadWriteCloser) {
	defer stream.Close()
	for ctx.Err() == nil {
		frame, err := readFrame(stream)
		if err != nil {
			return
		}
		// Radio scans can't carry family identity; the first advert
		// frame on a stream fills it in.
		if env, derr := wire.Decode(frame); derr == nil && env.Kind == wire.KindAdvert {
			a.sightingFromAdvert(env)
		}
		a.mu.Lock()
		h := a.handlers
		a.mu.Unlock()
		if h.OnFrame != nil {
			h.OnFrame(peerID, a.kind, frame)
		}
	}
}

func (a *Adapter) sightingFromAdvert(env *wire.Envelope) {
	adv, err := wire.ParseAdvert(env.Payload)
	if err != nil {
		return
	}
	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()
	if h.OnSighting != nil {
		h.OnSighting(transport.Sighting{
			PeerID:      env.SenderID,
			FamilyID:    env.Scope,
			DisplayName: adv.DisplayName,
			Caps:        adv.Capabilities,
			Transport:   a.kind,
			Quality:     50,
			Addr:        env.SenderID,
		})
	}
}

// Dial opens a stream to the peer and sends the local advert so the remote
// side learns our family identity.
func (a *Adapter) Dial(ctx context.Context, peerID, addr string) (transport.Link, error) {
	stream, err := a.driver.Open(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("open %s stream to %s: %w", a.kind, peerID, err)
	}

	link := &streamLink{kind: a.kind, peerID: peerID, stream: stream}
	if frame, err := a.localAdvertFrame(); err == nil {
		if err := link.Send(ctx, frame); err != nil {
			link.Close()
			return nil, err
		}
	}

	a.mu.Lock()
	readCtx := a.runCtx
	a.mu.Unlock()
	if readCtx == nil {
		readCtx = context.Background()
	}
	// Reads stop when the stream breaks or the adapter stops.
	go a.readLoop(readCtx, peerID, stream)
	return link, nil
}

func (a *Adapter) localAdvertFrame() ([]byte, error) {
	payload, err := wire.BuildAdvert(wire.Advert{
		Capabilities: a.node.Capabilities,
		DisplayName:  a.node.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	env := wire.Envelope{
		Kind:            wire.KindAdvert,
		SenderID:        a.node.NodeID,
		Scope:           a.node.FamilyID,
		CreatedAtMillis: time.Now().UnixMilli(),
		Payload:         payload,
	}
	return env.Encode()
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	started := a.started
	a.cancel = nil
	a.started = false
	a.mu.Unlock()
	if !started {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.driver != nil {
		return a.driver.Close()
	}
	return nil
}

// streamLink frames writes onto a raw stream: length(4, little endian) + body.
type streamLink struct {
	kind   models.Transport
	peerID string
	stream io.ReadWriteCloser

	mu     sync.Mutex
	closed bool
}

func (l *streamLink) PeerID() string              { return l.peerID }
func (l *streamLink) Transport() models.Transport { return l.kind }

func (l *streamLink) Send(_ context.Context, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrLinkClosed
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := l.stream.Write(hdr[:]); err != nil {
		return err
	}
	_, err := l.stream.Write(frame)
	return err
}

func (l *streamLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.stream.Close()
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
