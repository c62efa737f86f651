package conn

import "errors"

var (
	// ErrInvalidSlot is returned when a connection id lies outside
	// [0, MaxConnections).
	//
	// No slot is touched when this error is returned.
	ErrInvalidSlot = errors.New("invalid connection id")

	// ErrSlotConnected is returned by Start when the slot already holds an
	// open connection.
	ErrSlotConnected = errors.New("connection already established")

	// ErrSlotDisconnected is returned when an operation needs an open
	// connection but the slot is idle.
	ErrSlotDisconnected = errors.New("connection not established")

	// ErrInvalidKind is returned for an unknown connection type.
	ErrInvalidKind = errors.New("invalid connection type")

	// ErrTransport wraps failures of the underlying socket: connect, write or
	// TLS configuration.
	//
	// A transport failure only affects its own slot, which is returned to the
	// disconnected state.
	ErrTransport = errors.New("transport error")
)
