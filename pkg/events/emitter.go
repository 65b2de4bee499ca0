// Package events provides the ordered publish/subscribe dispatcher used by
// every service in the core. There is no global bus; each component owns an
// Emitter and exposes it through its public surface.
package events

import "sync"

// Type names a single event stream on an emitter.
type Type string

// Handler receives the event payload. Handlers for a type run in the order
// they were registered.
type Handler func(payload any)

// Token identifies a single subscription for later removal.
type Token struct {
	typ Type
	id  uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Emitter is a minimal dispatch table. Emit runs handlers synchronously on
// the calling goroutine, outside the emitter lock, so handlers may subscribe
// or unsubscribe reentrantly.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Type][]entry
}

func New() *Emitter {
	return &Emitter{handlers: make(map[Type][]entry)}
}

// Subscribe registers a handler for an event type and returns a token that
// can be passed to Unsubscribe. Multiple handlers per type are allowed.
func (e *Emitter) Subscribe(t Type, h Handler) Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[t] = append(e.handlers[t], entry{id: e.nextID, fn: h})
	return Token{typ: t, id: e.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (e *Emitter) Unsubscribe(tok Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.handlers[tok.typ]
	for i, ent := range list {
		if ent.id == tok.id {
			e.handlers[tok.typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit dispatches payload to every handler registered for t, in registration
// order.
func (e *Emitter) Emit(t Type, payload any) {
	e.mu.RLock()
	list := make([]entry, len(e.handlers[t]))
	copy(list, e.handlers[t])
	e.mu.RUnlock()

	for _, ent := range list {
		ent.fn(payload)
	}
}
