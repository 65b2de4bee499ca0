package mesh

import (
	"github.com/wpamesh/sonny-mesh/pkg/events"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/wire"
)

// Events emitted by the engine. Payload types are noted per event.
const (
	// EventPeerDiscovered carries models.Peer.
	EventPeerDiscovered events.Type = "peer-discovered"
	// EventPeerLost carries models.Peer.
	EventPeerLost events.Type = "peer-lost"
	// EventConnectionStateChanged carries ConnectionChange.
	EventConnectionStateChanged events.Type = "connection-state-changed"
	// EventMessageReceived carries Inbound.
	EventMessageReceived events.Type = "message-received"
	// EventStatusChanged carries models.MeshStatus.
	EventStatusChanged events.Type = "mesh-status-changed"
)

// Inbound is a decoded data or ack envelope delivered to subscribers.
// Heartbeats and adverts are consumed by the engine itself.
type Inbound struct {
	Transport models.Transport
	Envelope  *wire.Envelope
}

// ConnectionChange describes a connection state transition.
type ConnectionChange struct {
	ConnectionID string
	PeerID       string
	Transport    models.Transport
	State        models.ConnectionState
}
