package client

import "errors"

var (
	// ErrNoDialer is returned when a Client is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// reach the gateway.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a
	// Client whose transport was never established.
	ErrNotInitialized = errors.New("client not initialized")

	// ErrAlreadyClosed is returned when an operation is attempted on a
	// Client that has already been closed.
	ErrAlreadyClosed = errors.New("client already closed")

	// ErrLoopRunning is returned when Loop is called while it is already
	// running.
	ErrLoopRunning = errors.New("loop already running")

	// ErrCommandFailed is returned when the gateway answers with a final
	// result other than OK.
	//
	// The error text carries the gateway's answer, for example ERROR or the
	// data mode escape notice.
	ErrCommandFailed = errors.New("command failed")

	// ErrNoPrompt is returned by SendData when the gateway did not ask for
	// the payload.
	ErrNoPrompt = errors.New("no data prompt")
)
