// Package workspace provides a scoped temporary directory per job, holding
// the downloaded source file and any produced artifacts until upload.
package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clipstack/transcoder/internal/client"
)

// Manager acquires isolated work directories backed by the object store.
type Manager struct {
	storage client.StorageClient
	baseDir string // empty means the system temp dir
}

func NewManager(storage client.StorageClient, baseDir string) *Manager {
	return &Manager{storage: storage, baseDir: baseDir}
}

// Workspace is one acquired directory. Release must be called exactly once
// on every exit path.
type Workspace struct {
	Dir        string
	SourcePath string

	released bool
}

// Acquire creates a temporary directory and downloads the source object into
// it. On any error the directory is removed before returning.
func (m *Manager) Acquire(ctx context.Context, sourceKey string) (*Workspace, error) {
	dir, err := os.MkdirTemp(m.baseDir, "transcode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	sourcePath := filepath.Join(dir, "source"+filepath.Ext(sourceKey))
	f, err := os.Create(sourcePath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create source file: %w", err)
	}

	if err := m.storage.Download(ctx, sourceKey, f); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to download source %s: %w", sourceKey, err)
	}
	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	return &Workspace{Dir: dir, SourcePath: sourcePath}, nil
}

// Release removes the directory. Removal failures are logged, never
// returned, and never block job completion. Safe to call more than once.
func (w *Workspace) Release() {
	if w == nil || w.released {
		return
	}
	w.released = true
	if err := os.RemoveAll(w.Dir); err != nil {
		log.Printf("Failed to clean up work dir %s: %v", w.Dir, err)
	}
}
