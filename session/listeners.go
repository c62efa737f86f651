package session

import (
	"sync"

	"i4.energy/across/atgw/bulk"
)

type listenerEntry struct {
	fn   func([]byte) int
	live bool
}

// Listeners routes raw input received while a command executes to the data
// mode consumers that registered for it. Registrations are appended and
// removed by tombstoning; the list is compacted once no live entry remains.
// IDs are never reused.
type Listeners struct {
	mu      sync.Mutex
	entries []listenerEntry
	// base is the ID of entries[0].
	base bulk.ListenerID
	live int
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{}
}

// Register adds fn and returns its ID.
func (l *Listeners) Register(fn func([]byte) int) bulk.ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, listenerEntry{fn: fn, live: true})
	l.live++
	return l.base + bulk.ListenerID(len(l.entries)-1)
}

// Deregister removes the listener with the given ID. Unknown and already
// removed IDs are ignored.
func (l *Listeners) Deregister(id bulk.ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := int(id - l.base)
	if id < l.base || i >= len(l.entries) || !l.entries[i].live {
		return
	}
	l.entries[i] = listenerEntry{}
	l.live--
	if l.live == 0 {
		l.compact()
	}
}

// Len returns the number of live listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Clear removes every listener.
func (l *Listeners) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live = 0
	l.compact()
}

// Dispatch hands chunk to every live listener and returns the largest number
// of bytes any of them consumed. Listeners are called without the registry
// lock held, so they may deregister themselves.
func (l *Listeners) Dispatch(chunk []byte) int {
	l.mu.Lock()
	fns := make([]func([]byte) int, 0, l.live)
	for _, e := range l.entries {
		if e.live {
			fns = append(fns, e.fn)
		}
	}
	l.mu.Unlock()

	consumed := 0
	for _, fn := range fns {
		consumed = max(consumed, fn(chunk))
	}
	return consumed
}

func (l *Listeners) compact() {
	l.base += bulk.ListenerID(len(l.entries))
	l.entries = nil
}
