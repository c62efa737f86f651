// Package files stores certificates and import archives uploaded in data
// mode.
package files

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/escape"
)

// Kind selects where an upload is stored.
type Kind int

const (
	Cert Kind = iota
	Connection
	Config
)

func (k Kind) String() string {
	switch k {
	case Cert:
		return "cert"
	case Connection:
		return "connection"
	case Config:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Mode selects how an upload is written.
type Mode int

const (
	Overwrite Mode = iota
	Append
)

const importArchive = "import.zip"

var (
	// ErrInvalidName is returned for a certificate name that is empty or not
	// a plain file name.
	ErrInvalidName = errors.New("invalid file name")

	// ErrInvalidKind is returned for an unknown upload kind.
	ErrInvalidKind = errors.New("invalid file type")
)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for escape detection.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// Store writes uploads below a data directory:
//
//	<dir>/certs/<name>
//	<dir>/connections/import.zip
//	<dir>/config/import.zip
type Store struct {
	dir    string
	mu     sync.Mutex
	upload *bulk.Transfer
	clock  func() time.Time
	logger *slog.Logger
}

// New returns a Store rooted at dir. Upload bytes are collected through
// listeners with the upload escape window.
func New(dir string, listeners bulk.Listeners, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "files")
	s.upload = bulk.New(bulk.Synchronized(&s.mu, listeners), escape.UploadDelay, bulk.WithClock(s.clock))
	return s
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Upload polls the upload for length bytes.
func (s *Store) Upload(length int) bulk.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload.Poll(length, 0)
}

// Busy reports whether an upload is in progress.
func (s *Store) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload.Busy()
}

// Cancel discards the upload in progress.
func (s *Store) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload.Reset()
}

// Path returns the file an upload of kind is stored in. name is only used
// for certificates.
func (s *Store) Path(kind Kind, name string) (string, error) {
	switch kind {
	case Cert:
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		return filepath.Join(s.dir, "certs", name), nil
	case Connection:
		return filepath.Join(s.dir, "connections", importArchive), nil
	case Config:
		return filepath.Join(s.dir, "config", importArchive), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrInvalidKind, int(kind))
	}
}

// Save writes body to the file for kind and returns its path.
func (s *Store) Save(kind Kind, name string, body []byte, mode Mode) (string, error) {
	path, err := s.Path(kind, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	s.logger.Info("File stored", "kind", kind, "path", path, "bytes", len(body), "append", mode == Append)
	return path, nil
}
