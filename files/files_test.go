package files_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/files"
)

type listenerTable struct {
	fns  map[bulk.ListenerID]func([]byte) int
	next bulk.ListenerID
}

func newListenerTable() *listenerTable {
	return &listenerTable{fns: map[bulk.ListenerID]func([]byte) int{}}
}

func (l *listenerTable) Register(fn func([]byte) int) bulk.ListenerID {
	id := l.next
	l.next++
	l.fns[id] = fn
	return id
}

func (l *listenerTable) Deregister(id bulk.ListenerID) {
	delete(l.fns, id)
}

func (l *listenerTable) Dispatch(chunk []byte) {
	for _, fn := range l.fns {
		fn(chunk)
	}
}

func TestPath(t *testing.T) {
	s := files.New("/data", newListenerTable())

	tests := []struct {
		name string
		kind files.Kind
		file string
		want string
		err  error
	}{
		{name: "Certificate", kind: files.Cert, file: "ca.pem", want: "/data/certs/ca.pem"},
		{name: "Connection import", kind: files.Connection, file: "ignored", want: "/data/connections/import.zip"},
		{name: "Config import", kind: files.Config, want: "/data/config/import.zip"},
		{name: "Certificate without name", kind: files.Cert, err: files.ErrInvalidName},
		{name: "Certificate outside directory", kind: files.Cert, file: "../passwd", err: files.ErrInvalidName},
		{name: "Hidden certificate", kind: files.Cert, file: "..", err: files.ErrInvalidName},
		{name: "Unknown kind", kind: files.Kind(7), err: files.ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Path(tt.kind, tt.file)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	s := files.New(dir, newListenerTable())

	path, err := s.Save(files.Cert, "client.pem", []byte("one"), files.Overwrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(dir, "certs", "client.pem") {
		t.Errorf("unexpected path %q", path)
	}

	if _, err := s.Save(files.Cert, "client.pem", []byte("two"), files.Append); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := os.ReadFile(path); string(got) != "onetwo" {
		t.Errorf("expected appended content, got %q", got)
	}

	if _, err := s.Save(files.Cert, "client.pem", []byte("three"), files.Overwrite); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := os.ReadFile(path); string(got) != "three" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestUpload(t *testing.T) {
	listeners := newListenerTable()
	now := time.Unix(0, 0)
	s := files.New(t.TempDir(), listeners, files.WithClock(func() time.Time { return now }))

	if out := s.Upload(4); out.Kind != bulk.Pending {
		t.Fatalf("expected Pending, got %v", out.Kind)
	}
	if !s.Busy() {
		t.Fatal("upload should be in progress")
	}

	listeners.Dispatch([]byte("data"))
	out := s.Upload(4)
	if out.Kind != bulk.Complete || string(out.Payload) != "data" {
		t.Fatalf("unexpected outcome %v %q", out.Kind, out.Payload)
	}
	if s.Busy() {
		t.Error("upload should be finished")
	}

	s.Upload(4)
	s.Cancel()
	if s.Busy() || len(listeners.fns) != 0 {
		t.Error("Cancel should release the listener")
	}
}
