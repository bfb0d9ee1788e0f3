// Package dedup implements the duplicate guard that keeps PushRelay from
// forwarding the same push request twice.
//
// Three layers are applied in order: a message already evaluated is never
// re-evaluated, a detection without a job id is never forwarded, and a job
// id that was already forwarded is never forwarded again regardless of which
// conversation or message carries it. All layers read and write the shared
// snapshot, so suppression decisions survive restarts.
package dedup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Reason classifies why the guard suppressed a forward.
type Reason string

const (
	// ReasonMessageSeen means the message id was already evaluated in a
	// previous cycle.
	ReasonMessageSeen Reason = "message_seen"
	// ReasonNoJobID means detection matched but no job id was extracted.
	ReasonNoJobID Reason = "no_job_id"
	// ReasonJobForwarded means the job id was already forwarded, possibly
	// from a different message or conversation.
	ReasonJobForwarded Reason = "job_forwarded"
)

// Guard serializes all snapshot access for the monitor loop. The monitor,
// the HTTP API, and the persistence flush all read through the guard, so a
// single mutex keeps the snapshot consistent.
type Guard struct {
	mu   sync.Mutex
	snap *models.Snapshot
}

// NewGuard wraps a loaded snapshot. A nil snapshot starts empty.
func NewGuard(snap *models.Snapshot) *Guard {
	if snap == nil {
		snap = models.NewSnapshot()
	} else {
		snap.Init()
	}
	return &Guard{snap: snap}
}

// Seen reports whether the message was already evaluated.
func (g *Guard) Seen(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Seen(messageID)
}

// ShouldForward applies the suppression layers in order and reports whether
// the message should be forwarded. When it returns false the reason names
// the layer that fired. An empty jobID always suppresses.
func (g *Guard) ShouldForward(messageID, jobID string) (bool, Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap.Seen(messageID) {
		slog.Debug("Guard.ShouldForward: message already seen", "message_id", messageID)
		return false, ReasonMessageSeen
	}
	if jobID == "" {
		slog.Debug("Guard.ShouldForward: detection carried no job id", "message_id", messageID)
		return false, ReasonNoJobID
	}
	if g.snap.JobForwarded(jobID) {
		slog.Debug("Guard.ShouldForward: job already forwarded", "message_id", messageID, "job_id", jobID)
		return false, ReasonJobForwarded
	}
	return true, ""
}

// JobForwarded reports whether the job id was already forwarded. Matching is
// case-insensitive.
func (g *Guard) JobForwarded(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.JobForwarded(jobID)
}

// MarkSeen records that the message was evaluated, whatever the outcome.
func (g *Guard) MarkSeen(messageID string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap.MarkSeen(messageID, at)
}

// CommitForward records a completed forward: the source message becomes
// seen, the job id becomes forwarded, and the full record is kept for the
// inspection API.
func (g *Guard) CommitForward(rec models.ForwardRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap.MarkSeen(rec.MessageID, rec.ForwardedAt)
	g.snap.MarkForwarded(rec)
	slog.Info("Guard.CommitForward: forward recorded", "message_id", rec.MessageID, "job_id", rec.JobID, "forwarded_message_id", rec.ForwardedMessageID)
}

// AdvanceCursor moves the conversation cursor forward. Regressions are
// ignored; it reports whether the cursor actually moved.
func (g *Guard) AdvanceCursor(conversationID string, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.AdvanceCursor(conversationID, ts)
}

// Cursor returns the poll cursor for a conversation, zero if none.
func (g *Guard) Cursor(conversationID string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Cursor(conversationID)
}

// Snapshot returns a deep copy suitable for persisting while the monitor
// keeps running.
func (g *Guard) Snapshot() *models.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Clone()
}

// Records returns forward records, newest first.
func (g *Guard) Records() []models.ForwardRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Records()
}

// Counts returns the snapshot section sizes.
func (g *Guard) Counts() models.SnapshotCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Counts()
}
