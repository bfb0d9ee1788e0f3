// SQLite-backed snapshot store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/PushRelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.SQLiteDSN != "")

	// Determine DSN (required)
	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Load reads the full snapshot from the database.
func (s *SQLiteStore) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := models.NewSnapshot()

	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, cursor_ts FROM cursors`)
	if err != nil {
		slog.Error("SQLiteStore Load cursors query failed", "error", err)
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	if err := scanCursors(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT message_id, seen_at FROM seen_messages`)
	if err != nil {
		slog.Error("SQLiteStore Load seen_messages query failed", "error", err)
		return nil, fmt.Errorf("failed to query seen messages: %w", err)
	}
	if err := scanSeen(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT message_id, conversation_id, job_id, forwarded_message_id, forwarded_at FROM forwarded_messages`)
	if err != nil {
		slog.Error("SQLiteStore Load forwarded_messages query failed", "error", err)
		return nil, fmt.Errorf("failed to query forwarded messages: %w", err)
	}
	if err := scanForwarded(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT job_id, forwarded_at FROM forwarded_jobs`)
	if err != nil {
		slog.Error("SQLiteStore Load forwarded_jobs query failed", "error", err)
		return nil, fmt.Errorf("failed to query forwarded jobs: %w", err)
	}
	if err := scanJobs(rows, snap); err != nil {
		return nil, err
	}

	counts := snap.Counts()
	slog.Debug("SQLiteStore Load succeeded", "cursors", counts.Conversations, "seen", counts.SeenMessages, "forwarded", counts.ForwardedMessages, "jobs", counts.ForwardedJobs)
	return snap, nil
}

// Save writes the snapshot in one transaction. Cursor and forward-record
// rows are replaced; seen and job rows are insert-only so their original
// timestamps survive repeated saves.
func (s *SQLiteStore) Save(ctx context.Context, snap *models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore Save begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for convID, ts := range snap.Cursors {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO cursors (conversation_id, cursor_ts) VALUES (?, ?)`, convID, ts); err != nil {
			slog.Error("SQLiteStore Save cursor upsert failed", "error", err, "conversation_id", convID)
			return fmt.Errorf("failed to upsert cursor for %s: %w", convID, err)
		}
	}
	for msgID, seenAt := range snap.SeenMessages {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO seen_messages (message_id, seen_at) VALUES (?, ?)`, msgID, seenAt); err != nil {
			slog.Error("SQLiteStore Save seen insert failed", "error", err, "message_id", msgID)
			return fmt.Errorf("failed to insert seen message %s: %w", msgID, err)
		}
	}
	for msgID, rec := range snap.ForwardedMessages {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO forwarded_messages (message_id, conversation_id, job_id, forwarded_message_id, forwarded_at) VALUES (?, ?, ?, ?, ?)`,
			msgID, rec.ConversationID, rec.JobID, rec.ForwardedMessageID, rec.ForwardedAt); err != nil {
			slog.Error("SQLiteStore Save forward record upsert failed", "error", err, "message_id", msgID)
			return fmt.Errorf("failed to upsert forward record %s: %w", msgID, err)
		}
	}
	for jobID, forwardedAt := range snap.ForwardedJobs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO forwarded_jobs (job_id, forwarded_at) VALUES (?, ?)`, jobID, forwardedAt); err != nil {
			slog.Error("SQLiteStore Save job insert failed", "error", err, "job_id", jobID)
			return fmt.Errorf("failed to insert forwarded job %s: %w", jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore Save commit failed", "error", err)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Clear deletes all snapshot rows (for tests).
func (s *SQLiteStore) Clear() error {
	for _, table := range []string{"cursors", "seen_messages", "forwarded_messages", "forwarded_jobs"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			slog.Error("SQLiteStore Clear failed", "error", err, "table", table)
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
