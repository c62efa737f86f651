// Package session implements the AT interface state machine that turns the
// raw serial byte stream into commands, runs them, and overlays data mode
// on the same channel.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/looplab/fsm"
	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/command"
)

// States of the interpreter.
const (
	StateIdle     = "idle"
	StateAnalyze  = "analyze_input"
	StateValidate = "validate_command"
	StateProcess  = "process_command"
)

const (
	eventInput      = "input_received"
	eventCRFound    = "carriage_return_found"
	eventCRNotFound = "carriage_return_not_found"
	eventValid      = "valid_command"
	eventInvalid    = "invalid_command"
	eventComplete   = "command_complete"
)

// DefaultPollInterval is how often an executing command is re-run when no
// input arrives.
const DefaultPollInterval = 100 * time.Millisecond

const readBufferSize = 1024

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithEcho sets the initial echo mode.
func WithEcho(enabled bool) Option {
	return func(s *Session) { s.echo.Store(enabled) }
}

// WithDebug enables DBG traces on the serial output.
func WithDebug(enabled bool) Option {
	return func(s *Session) { s.debug.Store(enabled) }
}

// WithPollInterval sets how often Loop re-runs an executing command.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// WithListeners shares a listener registry with the data mode consumers
// built before the session.
func WithListeners(l *Listeners) Option {
	return func(s *Session) { s.listeners = l }
}

// WithOutput shares the serial write path with notifiers built before the
// session.
func WithOutput(o *Output) Option {
	return func(s *Session) { s.out = o }
}

// Session is the interpreter of one serial channel.
type Session struct {
	transport    io.ReadWriter
	registry     *command.Registry
	logger       *slog.Logger
	machine      *fsm.FSM
	listeners    *Listeners
	out          *Output
	pollInterval time.Duration

	echo    atomic.Bool
	debug   atomic.Bool
	running atomic.Bool

	// mu serializes input handling, polling and reset.
	mu sync.Mutex
	// input is the command line being assembled.
	input []byte
	// backlog holds received bytes not yet handled.
	backlog  []byte
	resolved command.Resolved
	current  command.Invocation
}

// New returns an idle session reading commands from and writing responses to
// transport.
func New(transport io.ReadWriter, registry *command.Registry, opts ...Option) *Session {
	s := &Session{
		transport:    transport,
		registry:     registry,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	if s.listeners == nil {
		s.listeners = NewListeners()
	}
	if s.out == nil {
		s.out = NewOutput(transport, s.logger)
	}

	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventInput, Src: []string{StateIdle, StateAnalyze}, Dst: StateAnalyze},
			{Name: eventInput, Src: []string{StateProcess}, Dst: StateProcess},
			{Name: eventCRFound, Src: []string{StateAnalyze}, Dst: StateValidate},
			{Name: eventCRNotFound, Src: []string{StateAnalyze}, Dst: StateIdle},
			{Name: eventValid, Src: []string{StateValidate}, Dst: StateProcess},
			{Name: eventInvalid, Src: []string{StateValidate}, Dst: StateIdle},
			{Name: eventComplete, Src: []string{StateProcess}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("State changed", "event", e.Event, "from", e.Src, "to", e.Dst)
				s.debugf("Entering %s", e.Dst)
			},
		},
	)
	return s
}

// Listeners returns the registry data mode consumers register with.
func (s *Session) Listeners() *Listeners {
	return s.listeners
}

// State returns the current interpreter state.
func (s *Session) State() string {
	return s.machine.Current()
}

// SetEcho toggles echoing of command input.
func (s *Session) SetEcho(enabled bool) {
	s.echo.Store(enabled)
}

// Echo reports whether command input is echoed.
func (s *Session) Echo() bool {
	return s.echo.Load()
}

// SetDebug toggles DBG traces.
func (s *Session) SetDebug(enabled bool) {
	s.debug.Store(enabled)
}

// Debug reports whether DBG traces are written.
func (s *Session) Debug() bool {
	return s.debug.Load()
}

// Output writes framed text to the serial channel.
func (s *Session) Output(text string, leading, trailing bool) {
	s.out.Output(text, leading, trailing)
}

// Write writes raw text to the serial channel.
func (s *Session) Write(raw string) {
	s.out.Write(raw)
}

// Loop reads the transport and drives the interpreter until ctx is
// cancelled or the transport fails. It writes READY once started and re-runs
// an executing command every poll interval.
func (s *Session) Loop(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer s.running.Store(false)

	chunks := make(chan []byte, 16)
	readErrs := make(chan error, 1)

	go func() {
		defer close(chunks)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.transport.Read(buf)
			if n > 0 {
				select {
				case chunks <- bytes.Clone(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
		}
	}()

	s.out.Output(at.Ready, true, true)
	s.logger.Info("AT interface ready")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErrs:
					if errors.Is(err, io.EOF) {
						return io.EOF
					}
					return fmt.Errorf("read serial: %w", err)
				default:
					return ctx.Err()
				}
			}
			s.HandleInput(ctx, chunk)

		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// HandleInput processes one chunk received from the serial channel. Command
// framing does not depend on how the input was chunked.
func (s *Session) HandleInput(ctx context.Context, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backlog = append(s.backlog, chunk...)
	s.drive(ctx, s.machine.Current() == StateProcess)
}

// Poll re-runs the executing command, if any.
func (s *Session) Poll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current() != StateProcess {
		return
	}
	s.drive(ctx, true)
}

// Reset aborts the executing command, drops every listener and pending
// input and returns to idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.current.(command.Aborter); ok {
		a.Abort()
	}
	s.listeners.Clear()
	s.input = nil
	s.backlog = nil
	s.clearCommand()
	s.machine.SetState(StateIdle)
	s.logger.Info("Session reset")
}

// drive consumes the backlog. turn is set when the executing command is owed
// an execution even if no listener takes any bytes.
func (s *Session) drive(ctx context.Context, turn bool) {
	for {
		if s.machine.Current() == StateProcess {
			if len(s.backlog) > 0 {
				n := s.listeners.Dispatch(s.backlog)
				if n > 0 {
					s.debugf("Rx: %q", s.backlog[:n])
					s.backlog = s.backlog[n:]
					turn = true
				}
				s.fire(ctx, eventInput)
			}
			if !turn {
				// Unclaimed bytes wait for the next turn.
				return
			}
			turn = false
			s.process(ctx)
			continue
		}

		if len(s.backlog) == 0 {
			return
		}
		seg := s.backlog
		if i := bytes.IndexByte(seg, '\r'); i >= 0 {
			seg = seg[:i+1]
		}
		s.backlog = s.backlog[len(seg):]
		s.analyze(ctx, seg)
	}
}

// analyze appends one segment, ending at the first carriage return if any,
// to the command line.
func (s *Session) analyze(ctx context.Context, seg []byte) {
	if !s.appendInput(seg) {
		s.logger.Error("Invalid character received", "input", fmt.Sprintf("%q", seg))
		s.fire(ctx, eventInput)
		s.fire(ctx, eventCRNotFound)
		return
	}
	if s.echo.Load() {
		s.out.Write(string(seg))
	}

	s.fire(ctx, eventInput)
	if len(s.input) == 0 || s.input[len(s.input)-1] != '\r' {
		s.fire(ctx, eventCRNotFound)
		return
	}
	s.fire(ctx, eventCRFound)
	s.validate(ctx)
}

// appendInput applies seg to the command line, honouring backspace. It
// reports false, leaving the line untouched, when the result is not UTF-8.
func (s *Session) appendInput(seg []byte) bool {
	line := bytes.Clone(s.input)
	for _, b := range seg {
		if b != at.Backspace {
			line = append(line, b)
			continue
		}
		if len(line) > 0 {
			_, size := utf8.DecodeLastRune(line)
			line = line[:len(line)-size]
		}
	}
	if !validPrefix(line) {
		return false
	}
	s.input = line
	return true
}

func (s *Session) validate(ctx context.Context) {
	line := strings.TrimSpace(string(s.input))
	s.input = nil
	s.debugf("Looking up command for: %s", line)

	res, err := s.registry.Lookup(line)
	if err != nil {
		s.logger.Debug("Command lookup failed", "line", line, "error", err)
		s.out.Output(at.ERROR, true, true)
		s.fire(ctx, eventInvalid)
		return
	}

	if !res.UsageOnly {
		inv, err := command.Prepare(res)
		if err != nil {
			s.logger.Debug("Invalid parameters", "command", res.Command.Name(), "error", err)
			s.out.Output(command.Rejection(res.Command, err), true, true)
			s.fire(ctx, eventInvalid)
			return
		}
		s.current = inv
	}
	s.resolved = res
	s.fire(ctx, eventValid)
	s.process(ctx)
}

// process runs one turn of the resolved command and writes its response.
func (s *Session) process(ctx context.Context) {
	cmd := s.resolved.Command
	s.debugf("*** EXEC: id: %s, name: %s, params: %s, print usage: %t ***",
		cmd.Signature(), cmd.Name(), s.resolved.Params, s.resolved.UsageOnly)

	done := true
	var resp string
	if s.resolved.UsageOnly {
		resp = cmd.Usage()
	} else {
		var err error
		done, resp, err = s.execute(ctx)
		if err != nil {
			s.logger.Error("Command failed", "command", cmd.Name(), "error", err)
			done, resp = true, at.ERROR
		}
	}

	s.debugf("*** RESP: %s ***", resp)
	s.out.Output(resp, true, true)

	if done {
		s.clearCommand()
		s.fire(ctx, eventComplete)
	}
}

func (s *Session) execute(ctx context.Context) (done bool, resp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCommandPanic, r)
		}
	}()
	return s.current.Execute(ctx, s)
}

func (s *Session) clearCommand() {
	s.resolved = command.Resolved{}
	s.current = nil
}

func (s *Session) fire(ctx context.Context, event string) {
	// A transition must complete even when ctx is cancelled mid-command.
	err := s.machine.Event(context.WithoutCancel(ctx), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		s.logger.Error("Invalid state transition", "event", event, "state", s.machine.Current(), "error", err)
	}
}

func (s *Session) debugf(format string, args ...any) {
	if s.debug.Load() {
		s.out.Write("DBG: " + fmt.Sprintf(format, args...) + at.CRLF)
	}
}

// validPrefix reports whether b is UTF-8, allowing it to end in the middle
// of a rune.
func validPrefix(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			return !utf8.FullRune(b)
		}
		b = b[size:]
	}
	return true
}
