// Package bulk implements the chunked accumulate-until-threshold primitive
// shared by every data mode command.
//
// A Transfer collects payload bytes routed to it by the interpreter while a
// command is executing. The command polls the transfer on each scheduler turn
// until it reports completion, a partial chunk, or an escape abort.
package bulk

import (
	"sync"
	"time"

	"i4.energy/across/atgw/escape"
)

// ListenerID identifies a raw byte consumer registered with the interpreter.
type ListenerID int

// NoListener is the zero registration.
const NoListener ListenerID = -1

// Listeners is the registry that routes raw input to data mode consumers.
// Each listener returns how many bytes of the chunk it consumed.
type Listeners interface {
	Register(fn func([]byte) int) ListenerID
	Deregister(id ListenerID)
}

// Kind enumerates the possible results of polling a transfer.
type Kind int

const (
	// Pending means more bytes are needed.
	Pending Kind = iota
	// Complete carries exactly the target number of bytes.
	Complete
	// PartialComplete carries exactly one chunk of a larger target.
	PartialComplete
	// Aborted means the escape sequence was received.
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "Pending"
	case Complete:
		return "Complete"
	case PartialComplete:
		return "PartialComplete"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// AbortedLength is reported as the length of an aborted transfer.
const AbortedLength = -1

// Outcome is the result of a Poll.
type Outcome struct {
	Kind    Kind
	Payload []byte
	// Length is len(Payload), or AbortedLength.
	Length int
}

// Done reports whether the outcome ends the current poll cycle.
func (o Outcome) Done() bool {
	return o.Kind != Pending
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithClock overrides the time source used for escape detection.
func WithClock(now func() time.Time) Option {
	return func(t *Transfer) {
		t.now = now
	}
}

// Transfer is one accumulator and escape detector pair. It is not safe for
// concurrent use; owners serialize Feed, Poll and Reset.
type Transfer struct {
	listeners Listeners
	detector  *escape.Detector
	now       func() time.Time

	buf      []byte
	listener ListenerID
	// need is the target of the last poll, or -1 before the first one.
	need int
}

// New returns an idle Transfer with an escape detector using delay.
func New(listeners Listeners, delay time.Duration, opts ...Option) *Transfer {
	t := &Transfer{
		listeners: listeners,
		detector:  escape.New(delay),
		now:       time.Now,
		listener:  NoListener,
		need:      -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Feed appends payload bytes and runs escape detection on the cumulative
// buffer. It never takes more than the target of the last poll and returns
// the number of bytes consumed.
func (t *Transfer) Feed(chunk []byte) int {
	n := len(chunk)
	if t.need >= 0 {
		n = min(n, max(t.need-len(t.buf), 0))
	}
	if n == 0 && len(chunk) > 0 {
		return 0
	}
	t.buf = append(t.buf, chunk[:n]...)
	t.detector.Observe(t.buf, t.now())
	return n
}

// Poll evaluates the accumulator against target. When chunkLimit is greater
// than zero, chunks of exactly chunkLimit bytes are released before target
// is reached.
func (t *Transfer) Poll(target, chunkLimit int) Outcome {
	t.need = target

	if t.detector.Consume() {
		t.Reset()
		return Outcome{Kind: Aborted, Length: AbortedLength}
	}

	if len(t.buf) >= target {
		payload := t.buf[:target:target]
		t.buf = nil
		t.release()
		return Outcome{Kind: Complete, Payload: payload, Length: len(payload)}
	}

	if chunkLimit > 0 && len(t.buf) >= chunkLimit {
		payload := make([]byte, chunkLimit)
		copy(payload, t.buf)
		t.buf = append(t.buf[:0], t.buf[chunkLimit:]...)
		return Outcome{Kind: PartialComplete, Payload: payload, Length: chunkLimit}
	}

	if t.listener == NoListener {
		t.register()
	}
	return Outcome{Kind: Pending}
}

// Ingest feeds chunk and polls in one step.
func (t *Transfer) Ingest(chunk []byte, target, chunkLimit int) Outcome {
	t.need = target
	t.Feed(chunk)
	return t.Poll(target, chunkLimit)
}

// Busy reports whether a listener is registered, meaning a data mode
// transfer is in progress.
func (t *Transfer) Busy() bool {
	return t.listener != NoListener
}

// Buffered returns the number of accumulated bytes.
func (t *Transfer) Buffered() int {
	return len(t.buf)
}

// Reset discards accumulated bytes, releases the listener and clears the
// escape detector.
func (t *Transfer) Reset() {
	t.buf = nil
	t.detector.Reset()
	t.release()
}

// register installs the listener callback. A callback that outlives its
// registration, for instance one copied by a dispatcher before the transfer
// was reset, consumes nothing.
func (t *Transfer) register() {
	id := NoListener
	id = t.listeners.Register(func(chunk []byte) int {
		if t.listener != id {
			return 0
		}
		return t.Feed(chunk)
	})
	t.listener = id
}

func (t *Transfer) release() {
	if t.listener != NoListener {
		t.listeners.Deregister(t.listener)
		t.listener = NoListener
	}
	t.need = -1
}

// Synchronized wraps listeners so that every callback registered through it
// runs with mu held. Owners that poll a Transfer under mu use it to
// serialize Feed with Poll and Reset.
func Synchronized(mu sync.Locker, listeners Listeners) Listeners {
	return &lockedListeners{mu: mu, inner: listeners}
}

type lockedListeners struct {
	mu    sync.Locker
	inner Listeners
}

func (l *lockedListeners) Register(fn func([]byte) int) ListenerID {
	return l.inner.Register(func(chunk []byte) int {
		l.mu.Lock()
		defer l.mu.Unlock()
		return fn(chunk)
	})
}

func (l *lockedListeners) Deregister(id ListenerID) {
	l.inner.Deregister(id)
}
