package workspace

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/clipstack/transcoder/internal/client"
)

type fakeStorage struct {
	content []byte
	err     error
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return "", nil
}

func (s *fakeStorage) Download(ctx context.Context, key string, w io.Writer) error {
	if s.err != nil {
		return s.err
	}
	_, err := w.Write(s.content)
	return err
}

func (s *fakeStorage) Head(ctx context.Context, key string) (*client.ObjectInfo, error) {
	return &client.ObjectInfo{Size: int64(len(s.content))}, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error { return nil }

func (s *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", nil
}

func (s *fakeStorage) GetPublicURL(key string) string { return "https://cdn.test/" + key }

func TestAcquireDownloadsSource(t *testing.T) {
	base := t.TempDir()
	m := NewManager(&fakeStorage{content: []byte("fake video bytes")}, base)

	ws, err := m.Acquire(context.Background(), "media/input.mp4")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ws.Release()

	data, err := os.ReadFile(ws.SourcePath)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(data) != "fake video bytes" {
		t.Errorf("unexpected source content: %q", data)
	}
	if ext := ws.SourcePath[len(ws.SourcePath)-4:]; ext != ".mp4" {
		t.Errorf("expected source extension preserved, got %s", ws.SourcePath)
	}
}

func TestAcquireCleansUpOnDownloadError(t *testing.T) {
	base := t.TempDir()
	m := NewManager(&fakeStorage{err: errors.New("boom")}, base)

	if _, err := m.Acquire(context.Background(), "media/input.mp4"); err == nil {
		t.Fatal("expected error")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover dirs, found %d", len(entries))
	}
}

func TestReleaseRemovesDirAndIsIdempotent(t *testing.T) {
	base := t.TempDir()
	m := NewManager(&fakeStorage{content: []byte("x")}, base)

	ws, err := m.Acquire(context.Background(), "media/input.mkv")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ws.Release()
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Errorf("expected dir removed, stat err = %v", err)
	}

	// Second call must not panic.
	ws.Release()
}
