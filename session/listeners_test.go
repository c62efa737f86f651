package session_test

import (
	"net"
	"testing"

	"i4.energy/across/atgw/session"
)

func TestListeners(t *testing.T) {
	l := session.NewListeners()

	var got []string
	first := l.Register(func(b []byte) int {
		got = append(got, "first:"+string(b))
		return 1
	})
	second := l.Register(func(b []byte) int {
		got = append(got, "second:"+string(b))
		return len(b)
	})
	if first == second {
		t.Fatalf("expected distinct ids, got %d twice", first)
	}

	if n := l.Dispatch([]byte("abc")); n != 3 {
		t.Errorf("expected the largest consumption 3, got %d", n)
	}
	if len(got) != 2 || got[0] != "first:abc" || got[1] != "second:abc" {
		t.Errorf("unexpected dispatch order %v", got)
	}

	l.Deregister(first)
	l.Deregister(first)
	if l.Len() != 1 {
		t.Errorf("expected one live listener, got %d", l.Len())
	}

	l.Deregister(second)
	if l.Len() != 0 {
		t.Errorf("expected no live listener, got %d", l.Len())
	}
	if n := l.Dispatch([]byte("x")); n != 0 {
		t.Errorf("expected nothing consumed, got %d", n)
	}

	// IDs stay unique across compaction.
	third := l.Register(func([]byte) int { return 0 })
	if third == first || third == second {
		t.Errorf("id %d reused after compaction", third)
	}
	l.Deregister(first)
	if l.Len() != 1 {
		t.Error("a stale id must not remove a newer listener")
	}

	l.Clear()
	if l.Len() != 0 {
		t.Errorf("expected no live listener after Clear, got %d", l.Len())
	}
}

func TestListenerDeregistersItself(t *testing.T) {
	l := session.NewListeners()

	id := l.Register(func(b []byte) int {
		return len(b)
	})
	l.Register(func([]byte) int {
		l.Deregister(id)
		return 0
	})

	if n := l.Dispatch([]byte("ab")); n != 2 {
		t.Errorf("expected 2 consumed, got %d", n)
	}
	if l.Len() != 1 {
		t.Errorf("expected one listener left, got %d", l.Len())
	}
}

func TestNotifier(t *testing.T) {
	tests := []struct {
		name     string
		before   string
		notify   func(n *session.Notifier)
		expected string
	}{
		{
			name: "Connection lifecycle",
			notify: func(n *session.Notifier) {
				n.Connected(0)
				n.Received(0, []byte("hello"), nil)
				n.Received(1, []byte("pong"), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000})
				n.Disconnected(0)
			},
			expected: "\r\n+IP: 0,Connected" +
				"\r\n+IPD: 0,5,hello\r\n" +
				"+IPD: 1,4,'10.0.0.7',5000,pong\r\n" +
				"+IP: 0,Disconnected\r\n",
		},
		{
			name:     "Connected before a final result",
			notify:   func(n *session.Notifier) { n.Connected(2) },
			expected: "\r\n+IP: 2,Connected",
		},
		{
			name:     "Data after a complete line",
			before:   "\r\nOK\r\n",
			notify:   func(n *session.Notifier) { n.Received(0, []byte("hi"), nil) },
			expected: "\r\nOK\r\n+IPD: 0,2,hi\r\n",
		},
		{
			name:     "Data after a prompt",
			before:   "\r\n> ",
			notify:   func(n *session.Notifier) { n.Received(0, []byte("hi"), nil) },
			expected: "\r\n> \r\n+IPD: 0,2,hi\r\n",
		},
		{
			name:     "Disconnected after echoed input",
			before:   "AT+CIP",
			notify:   func(n *session.Notifier) { n.Disconnected(4) },
			expected: "AT+CIP\r\n+IP: 4,Disconnected\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serial := &serialBuffer{}
			out := session.NewOutput(serial, nil)
			out.Write(tt.before)
			tt.notify(session.NewNotifier(out))

			if got := serial.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestOutputSkipsEmptyText(t *testing.T) {
	serial := &serialBuffer{}
	out := session.NewOutput(serial, nil)

	out.Output("", true, true)
	out.Write("")
	if serial.String() != "" || serial.drains != 0 {
		t.Errorf("expected nothing written, got %q", serial.String())
	}

	out.Output("> ", true, false)
	out.Write("\r\n")
	if got, expected := serial.String(), "\r\n> \r\n"; got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}
