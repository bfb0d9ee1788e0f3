package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// FileStore persists the snapshot as a single JSON document, written
// atomically (temp file plus rename) so a crash mid-write never leaves a
// truncated snapshot behind.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a JSON-file-backed store at the configured path,
// creating parent directories as needed.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	if dir := filepath.Dir(cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	slog.Debug("FileStore.NewFileStore: store ready", "path", cfg.FilePath)
	return &FileStore{path: cfg.FilePath}, nil
}

// Load reads the snapshot from disk. A missing file yields an empty
// snapshot; an unreadable or corrupt file is logged and also yields an
// empty snapshot rather than blocking startup.
func (s *FileStore) Load(ctx context.Context) (*models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("FileStore.Load: no snapshot on disk, starting empty", "path", s.path)
			return models.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap := models.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		slog.Warn("FileStore.Load: snapshot corrupt, starting empty", "path", s.path, "error", err)
		return models.NewSnapshot(), nil
	}
	snap.Init()
	return snap, nil
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
