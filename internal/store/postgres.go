// PostgreSQL-backed snapshot store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PushRelay/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.PostgresDSN != "")
	// Determine DSN (required)
	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	// Run migrations to ensure snapshot tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Load reads the full snapshot from the database.
func (s *PostgresStore) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := models.NewSnapshot()

	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, cursor_ts FROM cursors`)
	if err != nil {
		slog.Error("PostgresStore Load cursors query failed", "error", err)
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	if err := scanCursors(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT message_id, seen_at FROM seen_messages`)
	if err != nil {
		slog.Error("PostgresStore Load seen_messages query failed", "error", err)
		return nil, fmt.Errorf("failed to query seen messages: %w", err)
	}
	if err := scanSeen(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT message_id, conversation_id, job_id, forwarded_message_id, forwarded_at FROM forwarded_messages`)
	if err != nil {
		slog.Error("PostgresStore Load forwarded_messages query failed", "error", err)
		return nil, fmt.Errorf("failed to query forwarded messages: %w", err)
	}
	if err := scanForwarded(rows, snap); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT job_id, forwarded_at FROM forwarded_jobs`)
	if err != nil {
		slog.Error("PostgresStore Load forwarded_jobs query failed", "error", err)
		return nil, fmt.Errorf("failed to query forwarded jobs: %w", err)
	}
	if err := scanJobs(rows, snap); err != nil {
		return nil, err
	}

	counts := snap.Counts()
	slog.Debug("PostgresStore Load succeeded", "cursors", counts.Conversations, "seen", counts.SeenMessages, "forwarded", counts.ForwardedMessages, "jobs", counts.ForwardedJobs)
	return snap, nil
}

// Save writes the snapshot in one transaction, mirroring the SQLite rules:
// cursors and forward records are upserted, seen and job rows insert-only.
func (s *PostgresStore) Save(ctx context.Context, snap *models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore Save begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for convID, ts := range snap.Cursors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cursors (conversation_id, cursor_ts) VALUES ($1, $2) ON CONFLICT (conversation_id) DO UPDATE SET cursor_ts = EXCLUDED.cursor_ts`, convID, ts); err != nil {
			slog.Error("PostgresStore Save cursor upsert failed", "error", err, "conversation_id", convID)
			return fmt.Errorf("failed to upsert cursor for %s: %w", convID, err)
		}
	}
	for msgID, seenAt := range snap.SeenMessages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO seen_messages (message_id, seen_at) VALUES ($1, $2) ON CONFLICT (message_id) DO NOTHING`, msgID, seenAt); err != nil {
			slog.Error("PostgresStore Save seen insert failed", "error", err, "message_id", msgID)
			return fmt.Errorf("failed to insert seen message %s: %w", msgID, err)
		}
	}
	for msgID, rec := range snap.ForwardedMessages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO forwarded_messages (message_id, conversation_id, job_id, forwarded_message_id, forwarded_at) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id, job_id = EXCLUDED.job_id, forwarded_message_id = EXCLUDED.forwarded_message_id, forwarded_at = EXCLUDED.forwarded_at`,
			msgID, rec.ConversationID, rec.JobID, rec.ForwardedMessageID, rec.ForwardedAt); err != nil {
			slog.Error("PostgresStore Save forward record upsert failed", "error", err, "message_id", msgID)
			return fmt.Errorf("failed to upsert forward record %s: %w", msgID, err)
		}
	}
	for jobID, forwardedAt := range snap.ForwardedJobs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO forwarded_jobs (job_id, forwarded_at) VALUES ($1, $2) ON CONFLICT (job_id) DO NOTHING`, jobID, forwardedAt); err != nil {
			slog.Error("PostgresStore Save job insert failed", "error", err, "job_id", jobID)
			return fmt.Errorf("failed to insert forwarded job %s: %w", jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore Save commit failed", "error", err)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Clear deletes all snapshot rows (for tests).
func (s *PostgresStore) Clear() error {
	for _, table := range []string{"cursors", "seen_messages", "forwarded_messages", "forwarded_jobs"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			slog.Error("PostgresStore Clear failed", "error", err, "table", table)
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
