package mesh

import "errors"

var (
	// ErrNoTransport is the initialization failure: no transport adapter
	// is enabled or usable. Fatal, never retried.
	ErrNoTransport = errors.New("no transport enabled")

	// ErrPeerUnreachable means every transport exhausted its connection
	// attempts. Recoverable; callers may retry later or pick another peer.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrUnknownPeer means the peer has never been sighted.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrEngineClosed is returned once Shutdown has begun.
	ErrEngineClosed = errors.New("mesh engine closed")

	// ErrConnectionClosed fails sends that were pending on a connection
	// when it closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrQueueFull means a connection's outbound queue is saturated.
	ErrQueueFull = errors.New("send queue full")
)
