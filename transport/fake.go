package transport

import (
	"io"
	"sync"
)

// FakeTransport simulates a blocking transport using channels. Reads block
// until data is fed, like a real serial port would. Written bytes are
// delivered on Writes.
type FakeTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	pending  []byte
	writes   chan []byte
	closed   bool
}

// NewFakeTransport returns an open FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		readChan: make(chan []byte, 16),
		writes:   make(chan []byte, 16),
	}
}

func (t *FakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	t.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (t *FakeTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// Feed queues data to be read from the transport.
func (t *FakeTransport) Feed(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes delivers every buffer written to the transport.
func (t *FakeTransport) Writes() <-chan []byte {
	return t.writes
}
