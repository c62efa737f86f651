package gateway

import "errors"

var (
	// ErrNoTransport is returned by New when no transport is given.
	ErrNoTransport = errors.New("gateway needs a transport")

	// ErrNoDataDir is returned by New when Config.DataDir is empty.
	ErrNoDataDir = errors.New("gateway needs a data directory")

	// ErrAlreadyClosed is returned by Close on a closed Gateway.
	ErrAlreadyClosed = errors.New("gateway already closed")
)
