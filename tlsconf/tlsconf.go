// Package tlsconf builds TLS client configurations for the authentication
// modes selectable over AT commands.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Mode selects who authenticates whom.
type Mode int

const (
	Disabled           Mode = -1
	NoAuth             Mode = 0
	ServerVerifyClient Mode = 1
	ClientVerifyServer Mode = 2
	MutualAuth         Mode = 3
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "Disabled"
	case NoAuth:
		return "NoAuth"
	case ServerVerifyClient:
		return "ServerVerifyClient"
	case ClientVerifyServer:
		return "ClientVerifyServer"
	case MutualAuth:
		return "MutualAuth"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= Disabled && m <= MutualAuth
}

func (m Mode) presentsClientCert() bool {
	return m == ServerVerifyClient || m == MutualAuth
}

func (m Mode) verifiesServer() bool {
	return m == ClientVerifyServer || m == MutualAuth
}

var (
	// ErrInvalidMode is returned for an unknown authentication mode.
	ErrInvalidMode = errors.New("invalid TLS mode")

	// ErrMissingMaterial is returned when a mode requires a key, certificate
	// or CA path that was not given.
	ErrMissingMaterial = errors.New("missing TLS key material")
)

// Options describes a TLS client configuration.
type Options struct {
	Mode Mode
	// VerifyHostname enables server name checking when the server
	// certificate is verified.
	VerifyHostname bool
	KeyPath        string
	CertPath       string
	CAPath         string
	// ServerName overrides the name checked against the server certificate.
	ServerName string
}

// Validate checks that the paths required by the mode are present.
func (o Options) Validate() error {
	if !o.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(o.Mode))
	}
	if o.Mode.presentsClientCert() && (o.KeyPath == "" || o.CertPath == "") {
		return fmt.Errorf("%w: %s requires a key and certificate", ErrMissingMaterial, o.Mode)
	}
	if o.Mode.verifiesServer() && o.CAPath == "" {
		return fmt.Errorf("%w: %s requires a CA", ErrMissingMaterial, o.Mode)
	}
	return nil
}

// Build returns the client configuration for opts. Disabled yields a nil
// configuration. On any failure the returned configuration is nil.
func Build(opts Options) (*tls.Config, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == Disabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: opts.ServerName,
	}

	if opts.Mode.presentsClientCert() {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if !opts.Mode.verifiesServer() {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	roots, err := loadRoots(opts.CAPath)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = roots

	if !opts.VerifyHostname {
		// Chain verification still happens, only the name check is skipped.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = verifyChain(roots)
	}
	return cfg, nil
}

func loadRoots(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA: %w", err)
	}
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("read CA %s: no certificates found", path)
	}
	return roots, nil
}

func verifyChain(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("server presented no certificate")
		}
		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}
		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		return err
	}
}
