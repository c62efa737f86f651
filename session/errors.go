package session

import "errors"

var (
	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still running.
	ErrLoopRunning = errors.New("session loop already running")

	// ErrCommandPanic wraps a panic recovered from a command.
	ErrCommandPanic = errors.New("command panicked")
)
