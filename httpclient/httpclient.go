// Package httpclient runs the single HTTP transaction that can be configured
// and executed over AT commands.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/escape"
	"i4.energy/across/atgw/tlsconf"
)

// DefaultTimeout applies when a transaction is configured without one.
const DefaultTimeout = 10 * time.Second

var methods = []string{
	http.MethodHead,
	http.MethodGet,
	http.MethodPut,
	http.MethodPost,
	http.MethodDelete,
	http.MethodPatch,
}

// Method returns the HTTP method for its wire number.
func Method(n int) (string, error) {
	if n < 0 || n >= len(methods) {
		return "", fmt.Errorf("%w: %d", ErrInvalidMethod, n)
	}
	return methods[n], nil
}

// Transaction is the configured request.
type Transaction struct {
	Host    string
	Port    int
	Method  string
	Route   string
	Timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for escape detection.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// Service holds the transaction configuration and the body upload.
type Service struct {
	mu sync.Mutex

	tx              Transaction
	headers         http.Header
	responseHeaders bool
	tls             *tls.Config
	body            *bulk.Transfer

	clock  func() time.Time
	logger *slog.Logger
}

// New returns an unconfigured Service. Body bytes are collected through
// listeners with the upload escape window.
func New(listeners bulk.Listeners, opts ...Option) *Service {
	s := &Service{
		headers: http.Header{},
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	s.body = bulk.New(bulk.Synchronized(&s.mu, listeners), escape.UploadDelay, bulk.WithClock(s.clock))
	return s
}

// Configure clears the previous configuration and sets the transaction. A
// zero timeout selects DefaultTimeout.
func (s *Service) Configure(tx Transaction) {
	s.Clear()
	if tx.Timeout <= 0 {
		tx.Timeout = DefaultTimeout
	}
	if !strings.HasPrefix(tx.Route, "/") {
		tx.Route = "/" + tx.Route
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = tx
}

// Transaction returns the current configuration.
func (s *Service) Transaction() Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// AddHeader adds a request header, replacing any previous value.
func (s *Service) AddHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set(key, value)
}

// SetResponseHeaders selects whether Execute prefixes the body with the
// response headers and returns the new setting.
func (s *Service) SetResponseHeaders(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseHeaders = enabled
	return s.responseHeaders
}

// ConfigureTLS switches the transaction to HTTPS. On failure TLS is
// disabled again.
func (s *Service) ConfigureTLS(opts tlsconf.Options) error {
	cfg, err := tlsconf.Build(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.tls = nil
		return fmt.Errorf("configure tls: %w", err)
	}
	s.tls = cfg
	return nil
}

// Clear resets the configuration and discards any body being uploaded.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = Transaction{}
	s.headers = http.Header{}
	s.responseHeaders = false
	s.tls = nil
	s.body.Reset()
}

// Busy reports whether a request body is being uploaded.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body.Busy()
}

// Cancel discards the body being uploaded.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body.Reset()
}

// Execute polls the body upload for length bytes and, once complete, runs
// the request. The response is the body, preceded by a "k:v,..." header line
// when response headers are enabled. A length of zero sends no body.
func (s *Service) Execute(ctx context.Context, length int) (string, bulk.Outcome, error) {
	s.mu.Lock()
	if s.tx.Host == "" {
		s.mu.Unlock()
		return "", bulk.Outcome{}, ErrNotConfigured
	}

	out := bulk.Outcome{Kind: bulk.Complete}
	if length > 0 {
		out = s.body.Poll(length, 0)
	}
	if out.Kind != bulk.Complete {
		s.mu.Unlock()
		return "", out, nil
	}

	tx := s.tx
	headers := s.headers.Clone()
	withHeaders := s.responseHeaders
	tlsConfig := s.tls
	s.mu.Unlock()

	resp, err := s.do(ctx, tx, headers, tlsConfig, out.Payload, withHeaders)
	return resp, out, err
}

func (s *Service) do(ctx context.Context, tx Transaction, headers http.Header, tlsConfig *tls.Config, body []byte, withHeaders bool) (string, error) {
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	url := scheme + "://" + net.JoinHostPort(tx.Host, strconv.Itoa(tx.Port)) + tx.Route

	ctx, cancel := context.WithTimeout(ctx, tx.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, tx.Method, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header = headers
	if host := headers.Get("Host"); host != "" {
		req.Host = host
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		},
	}
	defer client.CloseIdleConnections()

	s.logger.Debug("Executing transaction", "method", tx.Method, "url", url, "body", len(body))
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", tx.Method, url, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	s.logger.Info("Transaction complete", "method", tx.Method, "url", url, "status", res.StatusCode)

	if !withHeaders {
		return string(data), nil
	}
	return formatHeaders(res.Header) + "\r\n" + string(data), nil
}

func formatHeaders(h http.Header) string {
	var pairs []string
	for _, key := range slices.Sorted(maps.Keys(h)) {
		for _, v := range h[key] {
			pairs = append(pairs, key+":"+v)
		}
	}
	return strings.Join(pairs, ",")
}
