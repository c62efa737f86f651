package command

import (
	"fmt"
	"strings"

	"i4.energy/across/atgw/at"
)

// Resolved is the result of a successful lookup.
type Resolved struct {
	Command Command
	// Params is everything after the first '=', with its original case.
	Params string
	// UsageOnly is set when the line ended with '?'.
	UsageOnly bool
}

// Registry maps signatures to commands. It is immutable once built.
type Registry struct {
	commands map[string]Command
}

// NewRegistry builds a registry from cmds.
func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{commands: make(map[string]Command, len(cmds))}
	for _, cmd := range cmds {
		sig := strings.ToLower(cmd.Signature())
		if _, ok := r.commands[sig]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSignature, sig)
		}
		r.commands[sig] = cmd
	}
	return r, nil
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.commands)
}

// Lookup resolves a trimmed command line.
//
// An empty line resolves to Empty. A line that does not start with "AT" is
// unknown without further inspection. One trailing '?' requests the usage
// text. The signature is everything before the first '=' and must match a
// registered signature exactly, ignoring case.
func (r *Registry) Lookup(line string) (Resolved, error) {
	if line == "" {
		return Resolved{Command: Empty}, nil
	}

	if !strings.HasPrefix(strings.ToLower(line), at.CommandPrefix) {
		return Resolved{}, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}

	usageOnly := false
	if strings.HasSuffix(line, "?") {
		usageOnly = true
		line = line[:len(line)-1]
	}

	sig, params, _ := strings.Cut(line, "=")
	cmd, ok := r.commands[strings.ToLower(sig)]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", ErrUnknownCommand, sig)
	}

	return Resolved{Command: cmd, Params: params, UsageOnly: usageOnly}, nil
}

// Prepare checks the arity of the resolved parameters and parses them.
func Prepare(res Resolved) (Invocation, error) {
	fields := Split(res.Params)
	if !Accepts(res.Command, len(fields)) {
		return nil, fmt.Errorf("%w: %s takes %v fields, got %d",
			ErrInvalidParams, res.Command.Signature(), res.Command.ParamCounts(), len(fields))
	}
	return res.Command.Parse(fields)
}
