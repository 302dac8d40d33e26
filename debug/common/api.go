package common

import (
	"context"
)

// State is the lifecycle state of a debug session.
//
// Sessions move Uninitialized -> Initializing -> Initialized, and may reach
// Terminated from any state. Terminated is final.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateTerminated    State = "terminated"
)

// TransportKind selects how a session reaches its debug adapter.
type TransportKind string

const (
	// TransportTCP spawns the adapter and connects to 127.0.0.1:<port>.
	TransportTCP TransportKind = "tcp"
	// TransportStdio spawns the adapter and speaks over its stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportWebSocket connects to an adapter exposed behind a websocket url.
	TransportWebSocket TransportKind = "websocket"
)

// SessionInfo holds information about a debug session
type SessionInfo struct {
	ID      string
	Adapter string
	State   State
}

// Session is the view of a debug session the session manager needs.
type Session interface {
	// ID returns the caller-level identity of the session. It never
	// appears on the wire.
	ID() string

	// State returns the current lifecycle state
	State() State

	// Shutdown disconnects from the adapter and releases the transport
	// and any adapter process owned by the session.
	Shutdown(ctx context.Context) error
}
