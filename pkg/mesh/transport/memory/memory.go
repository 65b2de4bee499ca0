// Package memory provides an in-process transport hub for tests. Nodes
// attached to the same hub discover each other immediately; delivery can be
// intercepted to simulate loss, duplication and reordering.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wpamesh/sonny-mesh/pkg/mesh/transport"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// Hub connects memory adapters to each other.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Adapter

	// Intercept, when set, is consulted for every frame delivery. Return
	// false to drop the frame; the callback may deliver it later (or more
	// than once) via Deliver.
	Intercept func(from, to string, frame []byte) bool
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Adapter)}
}

// NewAdapter creates an adapter for the given node attached to this hub.
// The kind is reported to the engine; all memory adapters behave the same.
func (h *Hub) NewAdapter(kind models.Transport, node models.Node) *Adapter {
	return &Adapter{hub: h, kind: kind, node: node}
}

// Deliver injects a frame into a node's receive path, bypassing Intercept.
func (h *Hub) Deliver(to string, from string, frame []byte) {
	h.mu.Lock()
	target := h.nodes[to]
	h.mu.Unlock()
	if target != nil {
		target.receive(from, frame)
	}
}

// Drop detaches a node and notifies the others that it is gone.
func (h *Hub) Drop(nodeID string) {
	h.mu.Lock()
	delete(h.nodes, nodeID)
	others := make([]*Adapter, 0, len(h.nodes))
	for _, a := range h.nodes {
		others = append(others, a)
	}
	h.mu.Unlock()
	for _, a := range others {
		a.peerGone(nodeID)
	}
}

func (h *Hub) attach(a *Adapter) {
	h.mu.Lock()
	existing := make([]*Adapter, 0, len(h.nodes))
	for _, other := range h.nodes {
		existing = append(existing, other)
	}
	h.nodes[a.node.NodeID] = a
	h.mu.Unlock()

	// Everyone sees everyone right away.
	for _, other := range existing {
		other.sight(a)
		a.sight(other)
	}
}

func (h *Hub) route(from, to string, frame []byte) error {
	h.mu.Lock()
	target := h.nodes[to]
	intercept := h.Intercept
	h.mu.Unlock()

	if target == nil {
		return fmt.Errorf("peer %s not reachable", to)
	}
	if intercept != nil && !intercept(from, to, frame) {
		return nil
	}
	target.receive(from, frame)
	return nil
}

// Adapter is one node's attachment to the hub.
type Adapter struct {
	hub  *Hub
	kind models.Transport
	node models.Node

	mu       sync.Mutex
	handlers transport.Handlers
	started  bool
}

func (a *Adapter) Kind() models.Transport { return a.kind }

func (a *Adapter) Start(_ context.Context, h transport.Handlers) error {
	a.mu.Lock()
	a.handlers = h
	a.started = true
	a.mu.Unlock()
	a.hub.attach(a)
	return nil
}

func (a *Adapter) Dial(_ context.Context, peerID, _ string) (transport.Link, error) {
	a.hub.mu.Lock()
	_, ok := a.hub.nodes[peerID]
	a.hub.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer %s not attached", peerID)
	}
	return &memLink{adapter: a, peerID: peerID}, nil
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()
	if started {
		a.hub.Drop(a.node.NodeID)
	}
	return nil
}

func (a *Adapter) sight(other *Adapter) {
	a.mu.Lock()
	h := a.handlers
	started := a.started
	a.mu.Unlock()
	if !started || h.OnSighting == nil {
		return
	}
	h.OnSighting(transport.Sighting{
		PeerID:      other.node.NodeID,
		FamilyID:    other.node.FamilyID,
		DisplayName: other.node.DisplayName,
		Caps:        other.node.Capabilities,
		Transport:   a.kind,
		Quality:     90,
		Addr:        other.node.NodeID,
	})
}

func (a *Adapter) receive(from string, frame []byte) {
	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()
	if h.OnFrame != nil {
		h.OnFrame(from, a.kind, frame)
	}
}

func (a *Adapter) peerGone(peerID string) {
	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()
	if h.OnPeerGone != nil {
		h.OnPeerGone(peerID)
	}
}

type memLink struct {
	adapter *Adapter
	peerID  string
	mu      sync.Mutex
	closed  bool
}

func (l *memLink) PeerID() string              { return l.peerID }
func (l *memLink) Transport() models.Transport { return l.adapter.kind }

func (l *memLink) Send(_ context.Context, frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrLinkClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	return l.adapter.hub.route(l.adapter.node.NodeID, l.peerID, cp)
}

func (l *memLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
