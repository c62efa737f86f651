package command

import "errors"

var (
	// ErrUnknownCommand is returned by Lookup when the input does not match
	// any registered signature.
	//
	// The interpreter answers with ERROR and stays in command mode.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidParams is returned when the parameter list has the wrong
	// arity or a field fails validation.
	//
	// The command is never executed when its parameters are invalid.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrDuplicateSignature is returned when two commands share a signature.
	ErrDuplicateSignature = errors.New("duplicate command signature")
)
