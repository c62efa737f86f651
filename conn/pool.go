// Package conn manages the fixed table of logical IP connections that AT
// commands open, feed and close.
package conn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/escape"
	"i4.energy/across/atgw/tlsconf"
)

// MaxConnections is the number of pre-allocated slots.
const MaxConnections = 6

const readBufferSize = 4096

// Notifier receives connection events. Calls for one slot are made in the
// order the events occurred.
type Notifier interface {
	Connected(id int)
	// Received delivers data read from the slot. from is set for datagram
	// slots only.
	Received(id int, payload []byte, from net.Addr)
	Disconnected(id int)
}

// SlotInfo is a snapshot of a slot.
type SlotInfo struct {
	ID        int
	Kind      Kind
	Addr      string
	Port      int
	KeepAlive time.Duration
	Connected bool
	Busy      bool
	Buffered  int
	TLS       bool
}

type slot struct {
	id        int
	kind      Kind
	addr      string
	port      int
	keepalive time.Duration
	connected bool
	dialing   bool
	tls       *tls.Config
	conn      net.Conn
	// transfer holds the pending send buffer, its escape detector and the
	// registered listener.
	transfer *bulk.Transfer
}

func (s *slot) reset() {
	s.transfer.Reset()
	s.kind = TCP
	s.addr = ""
	s.port = 0
	s.keepalive = 0
	s.connected = false
	s.dialing = false
	s.tls = nil
	s.conn = nil
}

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	dialer      Dialer
	logger      *slog.Logger
	escapeDelay time.Duration
	clock       func() time.Time
}

// WithDialer sets the socket dialer. The default is NetDialer.
func WithDialer(d Dialer) Option {
	return func(o *poolOptions) { o.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *poolOptions) { o.logger = l }
}

// WithEscapeDelay overrides the escape window used while sending.
func WithEscapeDelay(d time.Duration) Option {
	return func(o *poolOptions) { o.escapeDelay = d }
}

// WithClock overrides the time source used for escape detection.
func WithClock(now func() time.Time) Option {
	return func(o *poolOptions) { o.clock = now }
}

// Pool is the connection table. All methods are safe for concurrent use;
// operations on one slot never touch another slot's buffers.
type Pool struct {
	mu       sync.Mutex
	slots    [MaxConnections]*slot
	dialer   Dialer
	notifier Notifier
	logger   *slog.Logger
}

// NewPool returns a pool with every slot disconnected. Data mode listeners
// are registered with listeners; events are reported to notifier.
func NewPool(listeners bulk.Listeners, notifier Notifier, opts ...Option) *Pool {
	o := poolOptions{
		dialer:      NetDialer{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		escapeDelay: escape.SocketDelay,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool{
		dialer:   o.dialer,
		notifier: notifier,
		logger:   o.logger.With("component", "pool"),
	}
	locked := bulk.Synchronized(&p.mu, listeners)
	for i := range p.slots {
		p.slots[i] = &slot{
			id:       i,
			transfer: bulk.New(locked, o.escapeDelay, bulk.WithClock(o.clock)),
		}
	}
	return p
}

func (p *Pool) slot(id int) (*slot, error) {
	if id < 0 || id >= MaxConnections {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	return p.slots[id], nil
}

// Start opens a connection on slot id. The slot must be idle. A keepalive
// of zero disables TCP keepalive probes.
func (p *Pool) Start(ctx context.Context, id int, kind Kind, addr string, port int, keepalive time.Duration) error {
	p.mu.Lock()
	s, err := p.slot(id)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if s.connected || s.dialing {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSlotConnected, id)
	}
	s.dialing = true
	ep := Endpoint{Kind: kind, Addr: addr, Port: port, KeepAlive: keepalive, TLS: s.tls}
	p.mu.Unlock()

	c, err := p.dialer.Dial(ctx, ep)

	p.mu.Lock()
	s.dialing = false
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("Connection failed", "id", id, "kind", kind, "address", ep.Address(), "error", err)
		return fmt.Errorf("%w: start %d: %w", ErrTransport, id, err)
	}
	s.kind = kind
	s.addr = addr
	s.port = port
	s.keepalive = keepalive
	s.conn = c
	s.connected = true
	p.mu.Unlock()

	p.logger.Info("Connection established", "id", id, "kind", kind, "address", ep.Address())
	p.notifier.Connected(id)
	go p.read(s, c, kind)
	return nil
}

// Close aborts the connection on slot id and resets the slot, discarding any
// pending send and its listener.
func (p *Pool) Close(id int) error {
	p.mu.Lock()
	s, err := p.slot(id)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if !s.connected {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSlotDisconnected, id)
	}
	c := s.conn
	s.reset()
	p.mu.Unlock()

	p.logger.Info("Connection closed", "id", id)
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		p.logger.Debug("Close returned error", "id", id, "error", err)
	}
	return nil
}

// CloseAll closes every open slot.
func (p *Pool) CloseAll() {
	for id := range MaxConnections {
		if err := p.Close(id); err != nil && !errors.Is(err, ErrSlotDisconnected) {
			p.logger.Warn("Failed to close connection", "id", id, "error", err)
		}
	}
}

// Send polls the pending send of slot id for length bytes. The first call
// registers the data mode listener. When the outcome is Complete the
// payload has been written to the socket.
func (p *Pool) Send(id, length int) (bulk.Outcome, error) {
	p.mu.Lock()
	s, err := p.slot(id)
	if err != nil {
		p.mu.Unlock()
		return bulk.Outcome{}, err
	}
	if !s.connected {
		p.mu.Unlock()
		return bulk.Outcome{}, fmt.Errorf("%w: %d", ErrSlotDisconnected, id)
	}
	out := s.transfer.Poll(length, 0)
	c := s.conn
	p.mu.Unlock()

	if out.Kind != bulk.Complete {
		return out, nil
	}
	if _, err := c.Write(out.Payload); err != nil {
		return out, fmt.Errorf("%w: send %d: %w", ErrTransport, id, err)
	}
	return out, nil
}

// Busy reports whether slot id is accumulating a send.
func (p *Pool) Busy(id int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(id)
	if err != nil {
		return false, err
	}
	if !s.connected {
		return false, fmt.Errorf("%w: %d", ErrSlotDisconnected, id)
	}
	return s.transfer.Busy(), nil
}

// ConfigureTLS builds the TLS configuration used by the next TLS start on
// slot id. On failure the slot is left without a configuration.
func (p *Pool) ConfigureTLS(id int, opts tlsconf.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(id)
	if err != nil {
		return err
	}
	cfg, err := tlsconf.Build(opts)
	if err != nil {
		s.tls = nil
		return fmt.Errorf("%w: configure tls %d: %w", ErrTransport, id, err)
	}
	s.tls = cfg
	return nil
}

// Slot returns a snapshot of slot id.
func (p *Pool) Slot(id int) (SlotInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(id)
	if err != nil {
		return SlotInfo{}, err
	}
	return SlotInfo{
		ID:        s.id,
		Kind:      s.kind,
		Addr:      s.addr,
		Port:      s.port,
		KeepAlive: s.keepalive,
		Connected: s.connected,
		Busy:      s.transfer.Busy(),
		Buffered:  s.transfer.Buffered(),
		TLS:       s.tls != nil,
	}, nil
}

// read forwards data from c until it fails, then closes the slot if c is
// still its current connection.
func (p *Pool) read(s *slot, c net.Conn, kind Kind) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			var from net.Addr
			if kind == UDP {
				from = c.RemoteAddr()
			}
			p.notifier.Received(s.id, bytes.Clone(buf[:n]), from)
		}
		if err == nil {
			continue
		}
		// Datagram sockets report ICMP errors on read without being closed.
		if kind == UDP && !errors.Is(err, net.ErrClosed) {
			p.logger.Debug("Datagram read error", "id", s.id, "error", err)
			continue
		}
		p.logger.Debug("Connection reader stopped", "id", s.id, "error", err)
		break
	}

	p.mu.Lock()
	current := s.connected && s.conn == c
	if current {
		s.reset()
	}
	p.mu.Unlock()

	if current {
		c.Close()
		p.logger.Info("Connection closed by peer", "id", s.id)
	}

	p.notifier.Disconnected(s.id)
}

// CancelSend discards the pending send of slot id and releases its listener.
func (p *Pool) CancelSend(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(id)
	if err != nil {
		return err
	}
	s.transfer.Reset()
	return nil
}
