package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/sonny"
)

// streamedEvents is the set of core events forwarded to SSE clients.
var streamedEvents = []events.Type{
	sonny.EventInitialized,
	sonny.EventMeshStatusChanged,
	sonny.EventPeerDiscovered,
	sonny.EventPeerLost,
	sonny.EventConnectionStateChanged,
	sonny.EventMessageReceived,
	sonny.EventMessageDeliveryUpdated,
	sonny.EventEmergencyTriggered,
	sonny.EventTriggerFired,
	sonny.EventCheckInRecorded,
	sonny.EventConsentChanged,
	sonny.EventTrustUpdated,
}

type sseEvent struct {
	name    events.Type
	payload any
}

// SSE endpoint streaming core events as they happen.
func (wr *WebRouter) eventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Buffered per-client queue; a slow reader drops events rather than
	// blocking the emitter.
	ch := make(chan sseEvent, 64)
	em := wr.core.Events()
	toks := make([]events.Token, 0, len(streamedEvents))
	for _, t := range streamedEvents {
		name := t
		toks = append(toks, em.Subscribe(name, func(payload any) {
			select {
			case ch <- sseEvent{name: name, payload: payload}:
			default:
			}
		}))
	}
	defer func() {
		for _, tok := range toks {
			em.Unsubscribe(tok)
		}
	}()

	ctx := r.Context()

	ticker := time.NewTicker(30 * time.Second) // Heartbeat to keep connection alive
	defer ticker.Stop()

	// Initial snapshot so clients render without waiting for activity.
	if data, err := json.Marshal(wr.core.Status()); err == nil {
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev.payload)
			if err != nil {
				wr.log.Debug("skipping unencodable event", "event", ev.name, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
