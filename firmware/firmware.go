// Package firmware stages firmware images received over the AT interface
// or downloaded from a URL.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/escape"
)

// ChunkSize is the amount of image data handed over per data mode chunk.
const ChunkSize = 128 * 1024

// Status is the state of the update process. The values are reported on
// the wire.
type Status int

const (
	Updated     Status = 0
	Fail        Status = 1
	NotUpdating Status = 2
	Updating    Status = 5
)

func (s Status) String() string {
	switch s {
	case Updated:
		return "Updated"
	case Fail:
		return "Failed"
	case NotUpdating:
		return "No update in progress"
	case Updating:
		return "Updating..."
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var (
	// ErrNoImage is returned by Start when no image name was given now or
	// by a previous Start.
	ErrNoImage = errors.New("no firmware image given")

	// ErrNotUpdating is returned when image data arrives while no update
	// has been started.
	ErrNotUpdating = errors.New("no update in progress")

	// ErrUpdateInProgress is returned by Start while an update is running.
	ErrUpdateInProgress = errors.New("update already in progress")
)

// Option configures a Stager.
type Option func(*Stager)

func WithLogger(l *slog.Logger) Option {
	return func(s *Stager) { s.logger = l }
}

// WithClock overrides the time source used for escape detection.
func WithClock(now func() time.Time) Option {
	return func(s *Stager) { s.clock = now }
}

// WithHTTPClient sets the client used to download images.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Stager) { s.http = c }
}

// Stager writes the image for the next update to <dir>/<image>.
type Stager struct {
	dir string

	mu       sync.Mutex
	status   Status
	image    string
	url      string
	file     *os.File
	written  int64
	transfer *bulk.Transfer
	// cancel stops a running download.
	cancel context.CancelFunc
	done   chan struct{}

	http   *http.Client
	clock  func() time.Time
	logger *slog.Logger
}

// New returns an idle Stager writing below dir. Image data is collected
// through listeners with the upload escape window.
func New(dir string, listeners bulk.Listeners, opts ...Option) *Stager {
	s := &Stager{
		dir:    dir,
		status: NotUpdating,
		http:   http.DefaultClient,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "firmware")
	s.transfer = bulk.New(bulk.Synchronized(&s.mu, listeners), escape.UploadDelay, bulk.WithClock(s.clock))
	return s
}

// Status returns the current update status.
func (s *Stager) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Written returns the number of image bytes staged so far.
func (s *Stager) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Path returns the staging file of the current image.
func (s *Stager) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path()
}

func (s *Stager) path() string {
	if s.image == "" {
		return ""
	}
	return filepath.Join(s.dir, filepath.Base(s.image))
}

// Start begins an update of image. Empty arguments reuse the values of the
// previous Start. With a URL the image is downloaded in the background;
// otherwise it is expected in chunks through Receive and WriteChunk.
func (s *Stager) Start(image, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Updating {
		return ErrUpdateInProgress
	}
	if image != "" {
		s.image = image
	}
	if url != "" {
		s.url = url
	}
	if s.image == "" {
		s.url = ""
		return ErrNoImage
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	f, err := os.Create(s.path())
	if err != nil {
		s.image, s.url = "", ""
		return fmt.Errorf("create staging file: %w", err)
	}
	s.file = f
	s.written = 0
	s.status = Updating
	s.logger.Info("Update started", "image", s.image, "url", s.url)

	if s.url != "" {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.download(ctx, s.url, f, s.done)
	}
	return nil
}

// Cancel stops the update, removes the staged image and discards any data
// mode transfer.
func (s *Stager) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfer.Reset()
	if s.file != nil {
		s.file.Close()
		os.Remove(s.file.Name())
		s.file = nil
	}
	s.written = 0
	s.status = NotUpdating
	s.logger.Info("Update cancelled", "image", s.image)
}

// Receive polls the data mode transfer for the remaining image bytes and
// releases them in ChunkSize pieces.
func (s *Stager) Receive(remaining int) bulk.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfer.Poll(remaining, ChunkSize)
}

// Busy reports whether a data mode transfer is in progress.
func (s *Stager) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfer.Busy()
}

// CancelTransfer discards the data mode transfer without stopping the
// update.
func (s *Stager) CancelTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfer.Reset()
}

// WriteChunk appends a piece of the image to the staging file. A write
// failure fails the update.
func (s *Stager) WriteChunk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Updating || s.file == nil || s.cancel != nil {
		return ErrNotUpdating
	}
	n, err := s.file.Write(chunk)
	s.written += int64(n)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("write image chunk: %w", err)
	}
	return nil
}

// Finish closes the staging file and marks the update as done.
func (s *Stager) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Updating || s.file == nil || s.cancel != nil {
		return ErrNotUpdating
	}
	if err := s.file.Close(); err != nil {
		s.file = nil
		s.fail(err)
		return fmt.Errorf("close staging file: %w", err)
	}
	s.file = nil
	s.status = Updated
	s.logger.Info("Update staged", "image", s.image, "bytes", s.written)
	return nil
}

// Close stops a running download.
func (s *Stager) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// fail records a failed update. s.mu must be held.
func (s *Stager) fail(err error) {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.status = Fail
	s.logger.Error("Update failed", "image", s.image, "error", err)
}

func (s *Stager) download(ctx context.Context, url string, f *os.File, done chan struct{}) {
	defer close(done)

	n, err := s.fetch(ctx, url, f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done {
		// Cancelled; Cancel cleans up.
		return
	}
	s.cancel, s.done = nil, nil
	s.written = n
	if err != nil {
		s.fail(err)
		return
	}
	if err := f.Close(); err != nil {
		s.file = nil
		s.fail(err)
		return
	}
	s.file = nil
	s.status = Updated
	s.logger.Info("Update downloaded", "image", s.image, "bytes", n)
}

func (s *Stager) fetch(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	res, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: %s", url, res.Status)
	}
	return io.Copy(w, res.Body)
}
