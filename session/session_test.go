package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/escape"
	"i4.energy/across/atgw/session"
)

// serialBuffer records everything written to the serial side.
type serialBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	drains int
}

func (b *serialBuffer) Read([]byte) (int, error) { return 0, io.EOF }

func (b *serialBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *serialBuffer) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drains++
	return nil
}

func (b *serialBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *serialBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type testCommand struct {
	sig    string
	counts []int
	parse  func(fields []string) (command.Invocation, error)
}

func (c *testCommand) Name() string       { return strings.ToUpper(c.sig) }
func (c *testCommand) Signature() string  { return c.sig }
func (c *testCommand) ParamCounts() []int { return c.counts }
func (c *testCommand) Usage() string      { return strings.ToUpper(c.sig) + "=<length>" }

func (c *testCommand) Parse(fields []string) (command.Invocation, error) {
	return c.parse(fields)
}

func respond(resp string) func([]string) (command.Invocation, error) {
	return func([]string) (command.Invocation, error) {
		return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
			return true, resp, nil
		}), nil
	}
}

// sendCommand streams <length> bytes through a bulk transfer, the way socket
// sends do.
type sendCommand struct {
	testCommand
	transfer *bulk.Transfer
	executed int
	aborted  bool
}

func newSendCommand(listeners bulk.Listeners, delay time.Duration, opts ...bulk.Option) *sendCommand {
	c := &sendCommand{transfer: bulk.New(listeners, delay, opts...)}
	c.testCommand = testCommand{sig: "at+send", counts: []int{1}, parse: c.parseSend}
	return c
}

type sendInvocation struct {
	cmd    *sendCommand
	length int
}

func (c *sendCommand) parseSend(fields []string) (command.Invocation, error) {
	n, err := command.IntIn(fields[0], 1, 1024)
	if err != nil {
		return nil, err
	}
	return &sendInvocation{cmd: c, length: n}, nil
}

func (i *sendInvocation) Execute(_ context.Context, con command.Console) (bool, string, error) {
	i.cmd.executed++
	if !i.cmd.transfer.Busy() {
		con.Output(at.Prompt, true, false)
	}
	out := i.cmd.transfer.Poll(i.length, 0)
	switch out.Kind {
	case bulk.Complete:
		return true, "+SEND: " + string(out.Payload) + at.CRLF + at.OK, nil
	case bulk.Aborted:
		return true, at.EscapeNotice, nil
	default:
		return false, "", nil
	}
}

func (i *sendInvocation) Abort() {
	i.cmd.aborted = true
	i.cmd.transfer.Reset()
}

type fixture struct {
	serial    *serialBuffer
	session   *session.Session
	listeners *session.Listeners
	send      *sendCommand
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{serial: &serialBuffer{}, listeners: session.NewListeners()}

	now := time.Unix(0, 0)
	tick := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	f.send = newSendCommand(f.listeners, escape.UploadDelay, bulk.WithClock(tick))

	registry, err := command.NewRegistry(
		&testCommand{sig: "at", counts: []int{0}, parse: respond(at.OK)},
		&testCommand{sig: "at+ver", counts: []int{0}, parse: respond("+VER: 1.0.0\r\nOK")},
		&testCommand{sig: "at+fail", counts: []int{0}, parse: func([]string) (command.Invocation, error) {
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				return false, "", errors.New("service unavailable")
			}), nil
		}},
		&testCommand{sig: "at+panic", counts: []int{0}, parse: func([]string) (command.Invocation, error) {
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				panic("boom")
			}), nil
		}},
		f.send,
	)
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]session.Option{session.WithListeners(f.listeners)}, opts...)
	f.session = session.New(f.serial, registry, opts...)
	return f
}

func (f *fixture) feed(input string) {
	f.session.HandleInput(context.Background(), []byte(input))
}

func (f *fixture) feedBytes(input string) {
	for i := range len(input) {
		f.session.HandleInput(context.Background(), []byte{input[i]})
	}
}

func TestHandleInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Communication check",
			input:    "AT\r",
			expected: "\r\nOK\r\n",
		},
		{
			name:     "Lower case",
			input:    "at+ver\r",
			expected: "\r\n+VER: 1.0.0\r\nOK\r\n",
		},
		{
			name:     "Surrounding whitespace",
			input:    "  AT \r",
			expected: "\r\nOK\r\n",
		},
		{
			name:     "Empty line",
			input:    "\r",
			expected: "",
		},
		{
			name:     "Unknown command",
			input:    "AT+NOPE\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Missing AT prefix",
			input:    "HELLO\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Invalid parameters",
			input:    "AT+SEND=abc\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Wrong arity",
			input:    "AT+SEND=1,2\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Usage",
			input:    "AT+SEND?\r",
			expected: "\r\nAT+SEND=<length>\r\n",
		},
		{
			name:     "Command error",
			input:    "AT+FAIL\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Command panic",
			input:    "AT+PANIC\r",
			expected: "\r\nERROR\r\n",
		},
		{
			name:     "Backspace",
			input:    "AX\x7fT\r",
			expected: "\r\nOK\r\n",
		},
		{
			name:     "Unterminated",
			input:    "AT",
			expected: "",
		},
		{
			name:     "Several commands",
			input:    "AT\rAT+VER\r",
			expected: "\r\nOK\r\n\r\n+VER: 1.0.0\r\nOK\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.feed(tt.input)

			if got := f.serial.String(); got != tt.expected {
				t.Errorf("expected output %q, got %q", tt.expected, got)
			}
			if f.send.executed != 0 {
				t.Errorf("send should never execute, ran %d times", f.send.executed)
			}
			if state := f.session.State(); state != session.StateIdle {
				t.Errorf("expected state %s, got %s", session.StateIdle, state)
			}
		})
	}
}

func TestFramingIsChunkIndependent(t *testing.T) {
	script := "AT\rAT+SEND=5\rhelloAT+SEND?\r\rat+ver\rAT+NOPE\rAT+SEND=3\rabc"

	whole := newFixture(t)
	whole.feed(script)

	byteWise := newFixture(t)
	byteWise.feedBytes(script)

	if whole.serial.String() != byteWise.serial.String() {
		t.Fatalf("output depends on chunking:\n%q\n%q", whole.serial.String(), byteWise.serial.String())
	}

	expected := "\r\nOK\r\n" +
		"\r\n> " + "\r\n+SEND: hello\r\nOK\r\n" +
		"\r\nAT+SEND=<length>\r\n" +
		"\r\n+VER: 1.0.0\r\nOK\r\n" +
		"\r\nERROR\r\n" +
		"\r\n> " + "\r\n+SEND: abc\r\nOK\r\n"
	if got := whole.serial.String(); got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
}

func TestDataModeLeftoverBecomesCommandInput(t *testing.T) {
	f := newFixture(t)

	f.feed("AT+SEND=5\r")
	if state := f.session.State(); state != session.StateProcess {
		t.Fatalf("expected state %s, got %s", session.StateProcess, state)
	}
	if f.listeners.Len() != 1 {
		t.Fatalf("expected one listener, got %d", f.listeners.Len())
	}

	// Command characters are payload while in data mode.
	f.feed("AT\r")
	if state := f.session.State(); state != session.StateProcess {
		t.Fatalf("expected state %s, got %s", session.StateProcess, state)
	}

	f.feed("xyAT\r")
	expected := "\r\n> \r\n+SEND: AT\rxy\r\nOK\r\n\r\nOK\r\n"
	if got := f.serial.String(); got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
	if f.listeners.Len() != 0 {
		t.Errorf("listener should be released, %d left", f.listeners.Len())
	}
	if state := f.session.State(); state != session.StateIdle {
		t.Errorf("expected state %s, got %s", session.StateIdle, state)
	}
}

func TestEscapeAbortsDataMode(t *testing.T) {
	f := newFixture(t)

	f.feed("AT+SEND=10\r")
	f.feedBytes("AB+++CD")

	if state := f.session.State(); state != session.StateIdle {
		t.Fatalf("expected state %s, got %s", session.StateIdle, state)
	}
	if f.listeners.Len() != 0 {
		t.Errorf("listener should be released, %d left", f.listeners.Len())
	}
	if f.send.transfer.Buffered() != 0 {
		t.Errorf("payload should be discarded, %d bytes left", f.send.transfer.Buffered())
	}

	// Bytes after the escape start the next command line.
	f.feed("AT\r")
	f.feed("AT\r")
	expected := "\r\n> \r\n" + at.EscapeNotice + "\r\n\r\nERROR\r\n\r\nOK\r\n"
	if got := f.serial.String(); got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
}

func TestEcho(t *testing.T) {
	f := newFixture(t, session.WithEcho(true))

	f.feedBytes("AT\r")
	if got, expected := f.serial.String(), "AT\r\r\nOK\r\n"; got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}

	// Data mode payload is never echoed.
	f.serial.Reset()
	f.feed("AT+SEND=2\rok")
	if got, expected := f.serial.String(), "AT+SEND=2\r\r\n> \r\n+SEND: ok\r\nOK\r\n"; got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}

	f.serial.Reset()
	f.session.SetEcho(false)
	f.feed("AT\r")
	if got, expected := f.serial.String(), "\r\nOK\r\n"; got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
	if f.serial.drains == 0 {
		t.Error("expected the serial port to be drained after writes")
	}
}

func TestInvalidUTF8IsDropped(t *testing.T) {
	f := newFixture(t, session.WithEcho(true))

	f.feed("A\xff\r")
	if got := f.serial.String(); got != "" {
		t.Fatalf("invalid input should be dropped, got %q", got)
	}

	// A multi-byte rune split across chunks is kept.
	f.feed("AT\xc3")
	f.feed("\xa9\x7f\r")
	if got, expected := f.serial.String(), "AT\xc3\xa9\x7f\r\r\nOK\r\n"; got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
}

func TestDebugTraces(t *testing.T) {
	f := newFixture(t, session.WithDebug(true))
	f.feed("AT\r")

	out := f.serial.String()
	for _, want := range []string{
		"DBG: Entering analyze_input\r\n",
		"DBG: Entering validate_command\r\n",
		"DBG: Looking up command for: AT\r\n",
		"DBG: Entering process_command\r\n",
		"DBG: *** EXEC: id: at, name: AT, params: , print usage: false ***\r\n",
		"DBG: *** RESP: OK ***\r\n",
		"\r\nOK\r\n",
		"DBG: Entering idle\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestPollRerunsExecutingCommand(t *testing.T) {
	f := newFixture(t)

	f.feed("AT+SEND=3\r")
	f.session.Poll(context.Background())
	f.session.Poll(context.Background())
	if f.send.executed != 3 {
		t.Errorf("expected 3 executions, got %d", f.send.executed)
	}

	f.feed("abc")
	if state := f.session.State(); state != session.StateIdle {
		t.Fatalf("expected state %s, got %s", session.StateIdle, state)
	}

	// Polling while idle does nothing.
	f.session.Poll(context.Background())
	if f.send.executed != 4 {
		t.Errorf("expected 4 executions, got %d", f.send.executed)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t)

	f.feed("AT+SEND=8\rabc")
	f.session.Reset()

	if !f.send.aborted {
		t.Error("executing command should be aborted")
	}
	if f.listeners.Len() != 0 {
		t.Errorf("listeners should be cleared, %d left", f.listeners.Len())
	}
	if state := f.session.State(); state != session.StateIdle {
		t.Errorf("expected state %s, got %s", session.StateIdle, state)
	}

	f.serial.Reset()
	f.feed("AT+SEND=2\rhi")
	if got, expected := f.serial.String(), "\r\n> \r\n+SEND: hi\r\nOK\r\n"; got != expected {
		t.Errorf("expected output %q, got %q", expected, got)
	}
}

// pipeSerial is a serial channel whose input is fed through a pipe.
type pipeSerial struct {
	*io.PipeReader
	out *serialBuffer
}

func (p pipeSerial) Write(b []byte) (int, error) { return p.out.Write(b) }

func waitFor(t *testing.T, buf *serialBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, got %q", want, buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoop(t *testing.T) {
	r, w := io.Pipe()
	out := &serialBuffer{}

	calls := 0
	slow := &testCommand{sig: "at+slow", counts: []int{0}, parse: func([]string) (command.Invocation, error) {
		calls = 0
		return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
			calls++
			if calls < 3 {
				return false, "", nil
			}
			return true, "+SLOW: done", nil
		}), nil
	}}
	registry, err := command.NewRegistry(&testCommand{sig: "at", counts: []int{0}, parse: respond(at.OK)}, slow)
	if err != nil {
		t.Fatal(err)
	}

	s := session.New(pipeSerial{PipeReader: r, out: out}, registry, session.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Loop(ctx) }()

	waitFor(t, out, "\r\nREADY\r\n")

	if err := s.Loop(ctx); !errors.Is(err, session.ErrLoopRunning) {
		t.Errorf("expected ErrLoopRunning, got %v", err)
	}

	if _, err := w.Write([]byte("AT\r")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "\r\nOK\r\n")

	// The ticker drives the command to completion without further input.
	if _, err := w.Write([]byte("AT+SLOW\r")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "+SLOW: done\r\n")

	w.Close()
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after the serial channel closed")
	}
}
