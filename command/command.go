// Package command defines the contract every AT command implements and the
// registry that resolves raw command lines to commands.
package command

import (
	"context"
	"slices"

	"i4.energy/across/atgw/at"
)

// Console is the serial side of the interpreter as seen by a running
// command. Writes are atomic per call.
type Console interface {
	// Output writes text framed with the optional leading and trailing
	// line breaks. Empty text is not written.
	Output(text string, leading, trailing bool)
	// Write writes raw text without framing.
	Write(raw string)
}

// Command describes one AT command. Implementations are immutable and
// registered once at start-up.
type Command interface {
	// Name is the human readable name.
	Name() string
	// Signature is the lower case match key, e.g. "at+cipstart".
	Signature() string
	// ParamCounts lists the accepted number of comma separated fields.
	ParamCounts() []int
	// Usage is the static help text returned for "SIGNATURE?".
	Usage() string
	// Parse validates fields and returns a typed invocation. Errors wrap
	// ErrInvalidParams.
	Parse(fields []string) (Invocation, error)
}

// Invocation is one parsed command line ready to execute.
//
// Execute may complete in a single call (done=true) or ask to be called
// again on the next scheduler turn (done=false) while it waits for data mode
// payload routed through a bulk transfer. The response is written to the
// serial output after every call, whether done or not.
type Invocation interface {
	Execute(ctx context.Context, con Console) (done bool, response string, err error)
}

// InvocationFunc adapts a function to the Invocation interface.
type InvocationFunc func(ctx context.Context, con Console) (bool, string, error)

// Execute calls f.
func (f InvocationFunc) Execute(ctx context.Context, con Console) (bool, string, error) {
	return f(ctx, con)
}

// Accepts reports whether n fields are accepted by cmd.
func Accepts(cmd Command, n int) bool {
	return slices.Contains(cmd.ParamCounts(), n)
}

// Rejecter is implemented by commands that answer invalid parameters with
// their own text instead of ERROR.
type Rejecter interface {
	Reject(err error) string
}

// Rejection returns the response for cmd when its parameters are invalid.
func Rejection(cmd Command, err error) string {
	if r, ok := cmd.(Rejecter); ok {
		return r.Reject(err)
	}
	return at.ERROR
}

// Empty is the command resolved for a blank line. It does nothing.
var Empty Command = emptyCommand{}

type emptyCommand struct{}

func (emptyCommand) Name() string       { return "Empty" }
func (emptyCommand) Signature() string  { return "" }
func (emptyCommand) ParamCounts() []int { return []int{0} }
func (emptyCommand) Usage() string      { return "" }

func (emptyCommand) Parse([]string) (Invocation, error) {
	return InvocationFunc(func(context.Context, Console) (bool, string, error) {
		return true, "", nil
	}), nil
}

// Aborter is implemented by invocations that hold data mode state. Abort
// releases that state when the session is reset mid-command.
type Aborter interface {
	Abort()
}
