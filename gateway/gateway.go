// Package gateway assembles the AT interface of the device: the session
// reading the host transport, the connection pool, the HTTP client, the
// file store and the firmware stager.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"i4.energy/across/atgw/atcmd"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/conn"
	"i4.energy/across/atgw/files"
	"i4.energy/across/atgw/firmware"
	"i4.energy/across/atgw/httpclient"
	"i4.energy/across/atgw/session"
	"i4.energy/across/atgw/transport"
)

// Config holds the settings of a Gateway.
type Config struct {
	// DataDir receives uploaded files. Firmware images are staged in its
	// firmware subdirectory.
	DataDir string
	// ClientSSLDir is where CIPSSL and HTTPSSL look up keys and
	// certificates. Defaults to the certs directory of the file store.
	ClientSSLDir string
	// Version is reported by AT+VER.
	Version string
	// Echo is the echo mode after start.
	Echo bool
	// Debug writes interpreter traces to the host.
	Debug bool
	// DialTimeout bounds CIPSTART connects. Zero means no timeout.
	DialTimeout time.Duration
	// PollInterval overrides session.DefaultPollInterval.
	PollInterval time.Duration
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dialer conn.Dialer
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces the socket dialer used by CIPSTART.
func WithDialer(d conn.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Gateway serves AT commands on one transport.
type Gateway struct {
	transport transport.Transport
	session   *session.Session
	pool      *conn.Pool
	firmware  *firmware.Stager
	logger    *slog.Logger
	closed    atomic.Bool
}

// New wires the components of the gateway around t. Nothing is read from t
// until Run is called.
func New(t transport.Transport, cfg Config, opts ...Option) (*Gateway, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if cfg.DataDir == "" {
		return nil, ErrNoDataDir
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = conn.NetDialer{Timeout: cfg.DialTimeout}
	}

	out := session.NewOutput(t, o.logger)
	listeners := session.NewListeners()

	store := files.New(cfg.DataDir, listeners, files.WithLogger(o.logger))
	sslDir := cfg.ClientSSLDir
	if sslDir == "" {
		sslDir = filepath.Join(store.Dir(), "certs")
	}

	deps := atcmd.Deps{
		Pool: conn.NewPool(listeners, session.NewNotifier(out),
			conn.WithDialer(o.dialer),
			conn.WithLogger(o.logger),
		),
		HTTP:         httpclient.New(listeners, httpclient.WithLogger(o.logger)),
		Files:        store,
		Firmware:     firmware.New(filepath.Join(cfg.DataDir, "firmware"), listeners, firmware.WithLogger(o.logger)),
		Version:      cfg.Version,
		ClientSSLDir: sslDir,
		Logger:       o.logger,
	}

	registry, err := command.NewRegistry(atcmd.All(deps)...)
	if err != nil {
		deps.Pool.CloseAll()
		return nil, fmt.Errorf("build command registry: %w", err)
	}

	sessionOpts := []session.Option{
		session.WithOutput(out),
		session.WithListeners(listeners),
		session.WithLogger(o.logger),
		session.WithEcho(cfg.Echo),
		session.WithDebug(cfg.Debug),
	}
	if cfg.PollInterval > 0 {
		sessionOpts = append(sessionOpts, session.WithPollInterval(cfg.PollInterval))
	}

	return &Gateway{
		transport: t,
		session:   session.New(t, registry, sessionOpts...),
		pool:      deps.Pool,
		firmware:  deps.Firmware,
		logger:    o.logger.With("component", "gateway"),
	}, nil
}

// Session returns the interpreter of the gateway.
func (g *Gateway) Session() *session.Session {
	return g.session
}

// Run serves commands until ctx is cancelled or the transport fails.
// Cancellation is not reported as an error.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("Serving AT commands")
	err := g.session.Loop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close aborts the executing command, drops every connection, stops a
// running firmware download and closes the transport, which ends Run.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	g.session.Reset()
	g.pool.CloseAll()
	var errs []error
	if err := g.firmware.Close(); err != nil {
		errs = append(errs, fmt.Errorf("stop firmware download: %w", err))
	}
	if err := g.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	return errors.Join(errs...)
}
