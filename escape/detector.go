// Package escape detects the in-band "+++" sequence that ends data mode.
//
// Unlike the classic Hayes escape, no guard time is required before or
// after the sequence: three '+' characters, each arriving within the
// configured delay of the previous one, are enough to latch the signal.
package escape

import (
	"time"
	"unicode/utf8"
)

const (
	// SocketDelay is the inter-character window used while streaming to a
	// connection slot.
	SocketDelay = 20 * time.Millisecond
	// UploadDelay is the inter-character window used for file, firmware and
	// HTTP body uploads.
	UploadDelay = 200 * time.Millisecond

	escapeChar = '+'
	runTarget  = 3
)

// Signal is the result of observing the receive buffer.
type Signal int

const (
	None Signal = iota
	Armed
)

func (s Signal) String() string {
	switch s {
	case Armed:
		return "Armed"
	default:
		return "None"
	}
}

// Detector tracks consecutive '+' arrivals for a single consumer.
// It is not safe for concurrent use.
type Detector struct {
	delay time.Duration
	run   int
	armed bool
	// last is the arrival time of the previous chunk. The zero value is
	// treated as infinitely long ago.
	last time.Time
}

// New returns a Detector using the given inter-character window.
func New(delay time.Duration) *Detector {
	return &Detector{delay: delay}
}

// Delay returns the inter-character window.
func (d *Detector) Delay() time.Duration {
	return d.delay
}

// Observe inspects the last character of the cumulative receive buffer at
// time now. Only the tail is looked at, never a window of three characters.
func (d *Detector) Observe(buf []byte, now time.Time) Signal {
	r, _ := utf8.DecodeLastRune(buf)

	switch {
	case len(buf) == 0 || r != escapeChar:
		d.run = 0
	case !d.last.IsZero() && now.Sub(d.last) <= d.delay && d.run != 0:
		d.run++
		if d.run == runTarget {
			d.armed = true
			d.run = 0
		}
	default:
		d.run = 1
	}
	d.last = now

	if d.armed {
		return Armed
	}
	return None
}

// Armed reports whether the escape condition is latched.
func (d *Detector) Armed() bool {
	return d.armed
}

// Consume returns the latched condition and clears it.
func (d *Detector) Consume() bool {
	armed := d.armed
	d.armed = false
	d.run = 0
	return armed
}

// Reset forgets all history, including the last arrival time.
func (d *Detector) Reset() {
	d.run = 0
	d.armed = false
	d.last = time.Time{}
}
