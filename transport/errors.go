package transport

import "errors"

var (
	// ErrNoPortName is returned by SerialDialer when no port is configured.
	ErrNoPortName = errors.New("atgw: serial port name is required")

	// ErrNilContext is returned when Dial is called with a nil context.
	ErrNilContext = errors.New("atgw: context is nil")

	// ErrUnsupportedScheme is returned by WebSocketDialer for URLs that are
	// not ws:// or wss://.
	ErrUnsupportedScheme = errors.New("atgw: unsupported websocket scheme")

	// ErrConnectionClosed is returned when reading from a closed WebSocket
	// transport.
	ErrConnectionClosed = errors.New("atgw: websocket connection closed")
)
