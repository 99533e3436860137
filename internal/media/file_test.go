package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestFileSink(t *testing.T) *FileSink {
	t.Helper()
	s, err := NewFileSink(filepath.Join(t.TempDir(), "media"), "http://localhost:8080/media/")
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	return s
}

func TestFileSink_PutRoundTrip(t *testing.T) {
	s := newTestFileSink(t)
	ctx := context.Background()
	data := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'g'}

	if err := s.Put(ctx, "record/detection_event/a.jpg", data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), "record", "detection_event", "a.jpg"))
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored bytes = %v, want %v", got, data)
	}

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "record", "detection_event"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestFileSink_PutOverwrites(t *testing.T) {
	s := newTestFileSink(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if err := s.Put(ctx, "x/blob.bin", []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := os.ReadFile(filepath.Join(s.Root(), "x", "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("blob = %q, want second", got)
	}
}

func TestFileSink_PutRejectsBadPaths(t *testing.T) {
	s := newTestFileSink(t)
	for _, p := range []string{"", "/etc/passwd", "../outside"} {
		if err := s.Put(context.Background(), p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestFileSink_PutCancelled(t *testing.T) {
	s := newTestFileSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Put(ctx, "a.jpg", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a.jpg")); !os.IsNotExist(err) {
		t.Error("blob written despite cancelled context")
	}
}

func TestFileSink_PutUnwritableRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "http://localhost/media")
	if err != nil {
		t.Fatal(err)
	}
	// A file where a directory is needed makes MkdirAll fail.
	if err := os.WriteFile(filepath.Join(dir, "record"), []byte("file"), 0o600); err != nil {
		t.Fatal(err)
	}

	err = s.Put(context.Background(), "record/detection_event/a.jpg", []byte("x"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Put() error = %v, want ErrWriteFailed", err)
	}
}

func TestFileSink_URL(t *testing.T) {
	s := newTestFileSink(t)
	got, err := s.URL(context.Background(), "record/detection_event/my clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if want := "http://localhost:8080/media/record/detection_event/my%20clip.mp4"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
