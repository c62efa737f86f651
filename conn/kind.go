package conn

import (
	"fmt"
	"strings"
)

// Kind is the transport used by a connection slot.
type Kind int

const (
	TCP Kind = iota
	UDP
	TLS
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case TLS:
		return "tls"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the numeric form used on the wire (0 tcp, 1 udp, 2 ssl)
// as well as the names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "tcp":
		return TCP, nil
	case "1", "udp":
		return UDP, nil
	case "2", "ssl", "tls":
		return TLS, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}
