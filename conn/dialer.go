package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Endpoint describes the remote side of a connection slot.
type Endpoint struct {
	Kind Kind
	Addr string
	Port int
	// KeepAlive is the TCP keepalive idle time. Zero disables keepalive.
	KeepAlive time.Duration
	// TLS is used when Kind is TLS. A nil configuration uses defaults.
	TLS *tls.Config
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(e.Port))
}

// Dialer opens the socket backing a connection slot.
type Dialer interface {
	// Dial connects to the endpoint. It may block and must respect
	// cancellation and deadlines of ctx.
	Dial(ctx context.Context, ep Endpoint) (net.Conn, error)
}

//go:generate mockgen -destination=mock_dialer.go -package=conn . Dialer

const (
	keepAliveInterval = time.Second
	keepAliveCount    = 3
)

// NetDialer dials real sockets.
type NetDialer struct {
	// Timeout bounds connect and TLS handshake. Zero means no timeout.
	Timeout time.Duration
}

// Dial implements Dialer.
func (d NetDialer) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	nd := net.Dialer{KeepAlive: -1}
	if ep.KeepAlive > 0 && ep.Kind != UDP {
		nd.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     ep.KeepAlive,
			Interval: keepAliveInterval,
			Count:    keepAliveCount,
		}
	}

	switch ep.Kind {
	case TCP:
		return nd.DialContext(ctx, "tcp", ep.Address())
	case UDP:
		return nd.DialContext(ctx, "udp", ep.Address())
	case TLS:
		raw, err := nd.DialContext(ctx, "tcp", ep.Address())
		if err != nil {
			return nil, err
		}
		cfg := ep.TLS
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg = cfg.Clone()
			cfg.ServerName = ep.Addr
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tc, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, ep.Kind)
	}
}
