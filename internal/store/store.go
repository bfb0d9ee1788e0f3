// Package store provides snapshot persistence backends for PushRelay.
//
// The snapshot (poll cursors, seen messages, forward history) is loaded once
// at startup and flushed after commits. Backends: JSON file (default),
// SQLite, PostgreSQL, and an in-memory store for tests and ephemeral runs.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Store persists the relay snapshot. Load must tolerate a missing or corrupt
// snapshot by returning an empty one; a cold start is always safe because the
// forwarded-job set is what gates the user-visible effect.
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	PostgresDSN string
	SQLiteDSN   string
	FilePath    string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL-backed store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// WithSQLiteDSN configures a SQLite-backed store. The DSN is a file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// WithFilePath configures a JSON-file-backed store.
func WithFilePath(path string) Option {
	return func(o *Opts) { o.FilePath = path }
}

// DetectDSNType classifies a database DSN as "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore builds a store from options, preferring Postgres, then SQLite,
// then the JSON file; with no options it falls back to in-memory.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.PostgresDSN != "":
		return NewPostgresStore(opts...)
	case cfg.SQLiteDSN != "":
		return NewSQLiteStore(opts...)
	case cfg.FilePath != "":
		return NewFileStore(opts...)
	default:
		slog.Debug("NewStore: no backend configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
}

// InMemoryStore keeps the snapshot in process memory. State does not survive
// restarts; tests and throwaway runs only.
type InMemoryStore struct {
	mu   sync.Mutex
	snap *models.Snapshot
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Load returns a copy of the stored snapshot, or an empty one.
func (s *InMemoryStore) Load(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return models.NewSnapshot(), nil
	}
	return s.snap.Clone(), nil
}

// Save stores a copy of the snapshot.
func (s *InMemoryStore) Save(ctx context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.Clone()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
