// Package transport opens the byte stream between the gateway and its host.
package transport

import (
	"context"
	"io"
)

//go:generate mockgen -destination=mock_transport.go -package=transport . Transport,Dialer

// Transport is an established, bidirectional byte stream carrying AT
// commands one way and responses the other.
//
// A Transport is assumed to be connected and ready for use. Typical
// implementations are serial ports, WebSocket bridges, or in-memory fakes
// used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport.
//
// Once a Transport is obtained the Dialer is no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may block and
	// should respect cancellation and deadlines of ctx.
	Dial(ctx context.Context) (Transport, error)
}
