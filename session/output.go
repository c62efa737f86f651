package session

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"i4.energy/across/atgw/at"
)

// drainer is implemented by serial ports that can block until written data
// has left the UART.
type drainer interface {
	Drain() error
}

// Output is the serial write path shared by the interpreter, running
// commands and connection notifications. Every call is written atomically.
type Output struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger

	// midLine is set while the last write did not end a line.
	midLine bool
}

// NewOutput returns an Output writing to w. A nil logger means
// slog.Default().
func NewOutput(w io.Writer, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{w: w, logger: logger.With("component", "output")}
}

// Output writes text with optional CRLF framing. Empty text is skipped.
func (o *Output) Output(text string, leading, trailing bool) {
	if text == "" {
		return
	}
	o.Write(at.Frame(text, leading, trailing))
}

// Write writes raw text.
func (o *Output) Write(raw string) {
	if raw == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.write(raw)
}

// Notify writes an unsolicited result code with optional CRLF framing. A
// code without a leading line break starts a new line when the previous
// write left one open, so it never runs into a prompt or echoed input.
func (o *Output) Notify(text string, leading, trailing bool) {
	if text == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	raw := at.Frame(text, leading, trailing)
	if o.midLine && !leading {
		raw = at.CRLF + raw
	}
	o.write(raw)
}

// write sends raw to the serial line. o.mu must be held.
func (o *Output) write(raw string) {
	if _, err := io.WriteString(o.w, raw); err != nil {
		o.logger.Error("Failed to write to serial", "error", err)
		return
	}
	o.midLine = !strings.HasSuffix(raw, "\n")
	if d, ok := o.w.(drainer); ok {
		if err := d.Drain(); err != nil {
			o.logger.Warn("Failed to drain serial", "error", err)
		}
	}
}
