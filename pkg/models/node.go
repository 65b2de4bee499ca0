package models

import "time"

// Transport identifies one of the opportunistic transports a node may use.
type Transport string

const (
	TransportBluetooth  Transport = "ble"
	TransportWifiDirect Transport = "wifi-direct"
	TransportInternet   Transport = "internet"
)

// Capability bit flags advertised by a node.
const (
	CapBluetooth  byte = 0x01
	CapWifiDirect byte = 0x02
	CapInternet   byte = 0x04
)

// Node is this device's own identity in the mesh. It is created at
// initialization and immutable for the session.
type Node struct {
	NodeID       string
	DeviceID     string
	DisplayName  string
	FamilyID     string
	UserID       string
	Capabilities byte
}

// HasCapability reports whether the node advertises the given capability flag.
func (n Node) HasCapability(flag byte) bool {
	return n.Capabilities&flag != 0
}

// ConnectionState is the lifecycle state of a single Connection.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionDegraded   ConnectionState = "degraded"
	ConnectionClosed     ConnectionState = "closed"
)

// Peer is another participant's device as observed by the local mesh engine.
// The engine owns the peer table exclusively; other components receive copies.
type Peer struct {
	PeerID      string
	DisplayName string
	FamilyID    string
	LastSeenAt  time.Time
	Transport   Transport
	Quality     int
	State       ConnectionState
}

// MeshStatus is the coarse availability of the local mesh engine.
type MeshStatus string

const (
	MeshOffline    MeshStatus = "offline"
	MeshConnecting MeshStatus = "connecting"
	MeshOnline     MeshStatus = "online"
)
