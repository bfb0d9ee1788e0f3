package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Row scan helpers shared by the SQLite and Postgres backends. Each consumes
// and closes the rows, folding them into the snapshot in place.

func scanCursors(rows *sql.Rows, snap *models.Snapshot) error {
	defer rows.Close()
	for rows.Next() {
		var convID string
		var ts time.Time
		if err := rows.Scan(&convID, &ts); err != nil {
			return fmt.Errorf("scan cursor row failed: %w", err)
		}
		snap.Cursors[convID] = ts.UTC()
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cursor rows failed: %w", err)
	}
	return nil
}

func scanSeen(rows *sql.Rows, snap *models.Snapshot) error {
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var seenAt time.Time
		if err := rows.Scan(&msgID, &seenAt); err != nil {
			return fmt.Errorf("scan seen row failed: %w", err)
		}
		snap.SeenMessages[msgID] = seenAt.UTC()
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate seen rows failed: %w", err)
	}
	return nil
}

func scanForwarded(rows *sql.Rows, snap *models.Snapshot) error {
	defer rows.Close()
	for rows.Next() {
		var rec models.ForwardRecord
		if err := rows.Scan(&rec.MessageID, &rec.ConversationID, &rec.JobID, &rec.ForwardedMessageID, &rec.ForwardedAt); err != nil {
			return fmt.Errorf("scan forward record row failed: %w", err)
		}
		rec.ForwardedAt = rec.ForwardedAt.UTC()
		snap.ForwardedMessages[rec.MessageID] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate forward record rows failed: %w", err)
	}
	return nil
}

func scanJobs(rows *sql.Rows, snap *models.Snapshot) error {
	defer rows.Close()
	for rows.Next() {
		var jobID string
		var forwardedAt time.Time
		if err := rows.Scan(&jobID, &forwardedAt); err != nil {
			return fmt.Errorf("scan job row failed: %w", err)
		}
		snap.ForwardedJobs[models.NormalizeJobID(jobID)] = forwardedAt.UTC()
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate job rows failed: %w", err)
	}
	return nil
}
