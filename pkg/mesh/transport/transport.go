// Package transport defines the adapter boundary between the mesh engine and
// the underlying best-effort transports. The core never implements a radio
// stack itself; BLE and Wi-Fi Direct arrive as host-supplied drivers and the
// internet bridge rides an MQTT relay.
package transport

import (
	"context"
	"errors"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

var (
	// ErrUnsupported means the transport cannot operate on this device at
	// all (radio missing or disabled). Fatal for the adapter only; the
	// engine keeps running on the others.
	ErrUnsupported = errors.New("transport not supported on this device")

	// ErrLinkClosed is returned by Send on a link that has been closed.
	ErrLinkClosed = errors.New("link closed")
)

// Sighting is a single peer observation produced by an adapter's discovery.
type Sighting struct {
	PeerID      string
	FamilyID    string
	DisplayName string
	Caps        byte
	Transport   models.Transport
	// Quality is a 0-100 link quality estimate (RSSI-derived for radios,
	// synthetic for the relay).
	Quality int
	// Addr is the adapter-specific dial address for this peer.
	Addr string
}

// Handlers receives adapter callbacks. All callbacks may be invoked from
// adapter-owned goroutines.
type Handlers struct {
	// OnSighting is invoked for every peer observation.
	OnSighting func(s Sighting)
	// OnFrame is invoked for every inbound frame from a peer, tagged with
	// the transport it arrived on.
	OnFrame func(peerID string, tr models.Transport, frame []byte)
	// OnPeerGone is invoked when the adapter positively knows a peer left
	// (e.g. a relay last-will fired). Silence-based pruning is the
	// engine's job.
	OnPeerGone func(peerID string)
}

// Link is an established unidirectional send path to one peer over one
// transport. Frames sent on a single link are delivered FIFO; no ordering
// holds across links.
type Link interface {
	PeerID() string
	Transport() models.Transport
	// Send transmits one frame. Blocking; honors ctx deadline.
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Adapter is one transport backend managed by the engine.
type Adapter interface {
	Kind() models.Transport
	// Start brings the adapter up and begins discovery. Returns
	// ErrUnsupported if this device cannot run the transport.
	Start(ctx context.Context, h Handlers) error
	// Dial establishes a link to a peer previously seen in a Sighting.
	Dial(ctx context.Context, peerID, addr string) (Link, error)
	// Stop tears the adapter down. Idempotent.
	Stop() error
}
