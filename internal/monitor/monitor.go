// Package monitor runs the PushRelay poll cycle: list conversations, fetch
// messages past each cursor, detect push requests, and forward them to the
// target conversation exactly once per job id.
//
// Every message resolves to one of three outcomes. Forwarded and no-action
// outcomes mark the message seen and let the cursor pass it. A deferred
// outcome (detector timeout, failed forward) leaves the message unseen and
// pins the cursor before it, so the next cycle retries from the same spot.
// Forwarding commits after the send, so a crash inside that window can
// produce a duplicate forward; the alternative would lose requests.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PushRelay/internal/dedup"
	"github.com/BTreeMap/PushRelay/internal/detect"
	"github.com/BTreeMap/PushRelay/internal/messaging"
	"github.com/BTreeMap/PushRelay/internal/models"
	"github.com/BTreeMap/PushRelay/internal/store"
)

// Default timeouts for the two external calls a message can trigger.
const (
	DefaultDetectTimeout  = 30 * time.Second
	DefaultForwardTimeout = 30 * time.Second

	// verifyTargetWindow bounds how far back the target conversation is
	// scanned when verify-target mode is on.
	verifyTargetWindow = 48 * time.Hour
)

// Error variables for better error handling and testability
var (
	ErrNilService  = errors.New("messaging service must be provided")
	ErrNilDetector = errors.New("detector must be provided")
	ErrNilGuard    = errors.New("duplicate guard must be provided")
	ErrNilStore    = errors.New("snapshot store must be provided")
)

// Opts holds configuration options for the monitor.
type Opts struct {
	Target         string
	DisplayName    string
	IncludeSelf    bool
	Reaction       string
	VerifyTarget   bool
	DetectTimeout  time.Duration
	ForwardTimeout time.Duration
}

// Option defines a configuration option for the monitor.
type Option func(*Opts)

// WithTarget sets the conversation push requests are forwarded into.
func WithTarget(target string) Option {
	return func(o *Opts) { o.Target = target }
}

// WithDisplayName sets the account display name used for group mention
// matching.
func WithDisplayName(name string) Option {
	return func(o *Opts) { o.DisplayName = name }
}

// WithIncludeSelf also evaluates messages authored by the monitoring
// account.
func WithIncludeSelf(include bool) Option {
	return func(o *Opts) { o.IncludeSelf = include }
}

// WithReaction reacts to each forwarded source message with the given emoji.
// Empty disables reactions.
func WithReaction(emoji string) Option {
	return func(o *Opts) { o.Reaction = emoji }
}

// WithVerifyTarget additionally scans recent target history for the job id
// before forwarding, suppressing jobs that are already visible there.
func WithVerifyTarget(verify bool) Option {
	return func(o *Opts) { o.VerifyTarget = verify }
}

// WithDetectTimeout bounds a single detector call.
func WithDetectTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DetectTimeout = d }
}

// WithForwardTimeout bounds a single forward call.
func WithForwardTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ForwardTimeout = d }
}

// outcome is the resolution of one message evaluation.
type outcome int

const (
	outcomeNoAction outcome = iota
	outcomeForwarded
	outcomeDeferred
)

// Monitor owns one relay pipeline: a platform, a detector, the duplicate
// guard, and the snapshot store.
type Monitor struct {
	svc   messaging.Service
	det   detect.Detector
	guard *dedup.Guard
	store store.Store

	filter         *Filter
	target         string
	includeSelf    bool
	reaction       string
	verifyTarget   bool
	detectTimeout  time.Duration
	forwardTimeout time.Duration

	mu             sync.Mutex
	running        bool
	cycles         uint64
	lastCycleStart time.Time
	lastCycleDur   time.Duration
	forwarded      uint64
	deferred       uint64
	cycleErrors    uint64
}

// NewMonitor wires a monitor. The target is validated and canonicalized by
// the platform client.
func NewMonitor(svc messaging.Service, det detect.Detector, guard *dedup.Guard, st store.Store, opts ...Option) (*Monitor, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	if det == nil {
		return nil, ErrNilDetector
	}
	if guard == nil {
		return nil, ErrNilGuard
	}
	if st == nil {
		return nil, ErrNilStore
	}

	cfg := Opts{
		DetectTimeout:  DefaultDetectTimeout,
		ForwardTimeout: DefaultForwardTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	target, err := svc.ValidateAndCanonicalizeTarget(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target conversation: %w", err)
	}
	if cfg.DisplayName == "" {
		slog.Warn("Monitor.NewMonitor: no display name configured, group chats will be skipped")
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = DefaultDetectTimeout
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultForwardTimeout
	}

	return &Monitor{
		svc:            svc,
		det:            det,
		guard:          guard,
		store:          st,
		filter:         NewFilter(target, cfg.DisplayName),
		target:         target,
		includeSelf:    cfg.IncludeSelf,
		reaction:       cfg.Reaction,
		verifyTarget:   cfg.VerifyTarget,
		detectTimeout:  cfg.DetectTimeout,
		forwardTimeout: cfg.ForwardTimeout,
	}, nil
}

// Target returns the canonicalized target conversation id.
func (m *Monitor) Target() string {
	return m.target
}

// RunCycle performs one full poll of all eligible conversations. It is safe
// to call repeatedly; the scheduler drives it on an interval. Conversation
// failures are logged and counted without aborting the rest of the cycle.
func (m *Monitor) RunCycle(ctx context.Context) error {
	start := time.Now()
	m.beginCycle(start)
	defer m.endCycle(start)

	convs, err := m.svc.Conversations(ctx)
	if err != nil {
		m.recordCycleError()
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	var firstErr error
	eligible := 0
	for _, conv := range convs {
		if ctx.Err() != nil {
			// Shutdown lands between conversations, never mid-commit.
			return ctx.Err()
		}
		if !m.filter.EligibleConversation(conv) {
			continue
		}
		eligible++
		if err := m.pollConversation(ctx, conv); err != nil {
			m.recordCycleError()
			slog.Error("Monitor.RunCycle: conversation poll failed", "conversation_id", conv.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := m.saveSnapshot(ctx); err != nil {
		m.recordCycleError()
		slog.Error("Monitor.RunCycle: snapshot flush failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	slog.Debug("Monitor.RunCycle: cycle complete", "conversations", len(convs), "eligible", eligible, "duration", time.Since(start))
	return firstErr
}

// pollConversation fetches messages past the cursor and evaluates them in
// order. On a deferred outcome the conversation stops early and the cursor
// advances at most to the last fully resolved message, keeping the deferred
// one inside the next fetch window.
func (m *Monitor) pollConversation(ctx context.Context, conv models.Conversation) error {
	since := m.guard.Cursor(conv.ID)
	msgs, err := m.svc.Messages(ctx, conv.ID, since)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	slog.Debug("Monitor.pollConversation: messages fetched", "conversation_id", conv.ID, "count", len(msgs))

	var resolvedThrough time.Time
	for _, msg := range msgs {
		if m.evaluate(ctx, conv, msg) == outcomeDeferred {
			m.recordDeferred()
			// The deferred message must stay after the cursor. When it
			// shares a timestamp with the last resolved message the cursor
			// cannot move at all this cycle.
			if !resolvedThrough.IsZero() && resolvedThrough.Before(msg.Timestamp) {
				m.guard.AdvanceCursor(conv.ID, resolvedThrough)
			}
			if err := m.saveSnapshot(ctx); err != nil {
				slog.Error("Monitor.pollConversation: snapshot flush failed", "conversation_id", conv.ID, "error", err)
			}
			return nil
		}
		resolvedThrough = msg.Timestamp
	}

	m.guard.AdvanceCursor(conv.ID, resolvedThrough)
	if err := m.saveSnapshot(ctx); err != nil {
		slog.Error("Monitor.pollConversation: snapshot flush failed", "conversation_id", conv.ID, "error", err)
	}
	return nil
}

// evaluate resolves a single message to an outcome. Only deferred outcomes
// leave the message unseen.
func (m *Monitor) evaluate(ctx context.Context, conv models.Conversation, msg models.Message) outcome {
	if m.guard.Seen(msg.ID) {
		return outcomeNoAction
	}
	now := time.Now().UTC()
	if !m.includeSelf && m.filter.SelfAuthored(msg) {
		m.guard.MarkSeen(msg.ID, now)
		return outcomeNoAction
	}
	if !m.filter.EligibleMessage(conv, msg) {
		m.guard.MarkSeen(msg.ID, now)
		return outcomeNoAction
	}

	det, err := m.runDetector(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			slog.Warn("Monitor.evaluate: detection timed out, deferring", "message_id", msg.ID, "error", err)
			return outcomeDeferred
		}
		slog.Error("Monitor.evaluate: detection failed", "message_id", msg.ID, "error", err)
		m.guard.MarkSeen(msg.ID, now)
		return outcomeNoAction
	}
	if !det.Match {
		m.guard.MarkSeen(msg.ID, now)
		return outcomeNoAction
	}

	jobID := models.NormalizeJobID(det.JobID)
	ok, reason := m.guard.ShouldForward(msg.ID, jobID)
	if !ok {
		slog.Info("Monitor.evaluate: forward suppressed", "message_id", msg.ID, "job_id", jobID, "reason", string(reason))
		m.guard.MarkSeen(msg.ID, now)
		return outcomeNoAction
	}

	if m.verifyTarget {
		if present, verr := m.jobVisibleInTarget(ctx, jobID); verr != nil {
			slog.Warn("Monitor.evaluate: target verification failed, forwarding anyway", "job_id", jobID, "error", verr)
		} else if present {
			slog.Info("Monitor.evaluate: job already visible in target, suppressing", "message_id", msg.ID, "job_id", jobID)
			m.guard.MarkSeen(msg.ID, time.Now().UTC())
			return outcomeNoAction
		}
	}

	fctx, cancel := context.WithTimeout(ctx, m.forwardTimeout)
	defer cancel()
	forwardedID, err := m.svc.Forward(fctx, m.target, msg, forwardNote(conv, msg))
	if err != nil {
		slog.Error("Monitor.evaluate: forward failed, will retry next cycle", "message_id", msg.ID, "job_id", jobID, "error", err)
		return outcomeDeferred
	}

	rec := models.ForwardRecord{
		MessageID:          msg.ID,
		ConversationID:     conv.ID,
		JobID:              jobID,
		ForwardedMessageID: forwardedID,
		ForwardedAt:        time.Now().UTC(),
	}
	m.guard.CommitForward(rec)
	m.recordForwarded()
	if err := m.saveSnapshot(ctx); err != nil {
		slog.Error("Monitor.evaluate: snapshot flush after forward failed", "message_id", msg.ID, "error", err)
	}

	if m.reaction != "" {
		if err := m.svc.React(ctx, conv.ID, msg.ID, m.reaction); err != nil {
			slog.Warn("Monitor.evaluate: reaction failed", "message_id", msg.ID, "error", err)
		}
	}
	return outcomeForwarded
}

func (m *Monitor) runDetector(ctx context.Context, msg models.Message) (models.Detection, error) {
	dctx, cancel := context.WithTimeout(ctx, m.detectTimeout)
	defer cancel()
	return m.det.Detect(dctx, msg.Content, msg.Attachments)
}

// jobVisibleInTarget scans recent target history for the job id.
func (m *Monitor) jobVisibleInTarget(ctx context.Context, jobID string) (bool, error) {
	msgs, err := m.svc.Messages(ctx, m.target, time.Now().Add(-verifyTargetWindow))
	if err != nil {
		return false, err
	}
	for _, msg := range msgs {
		if containsFold(msg.Content, jobID) {
			return true, nil
		}
	}
	return false, nil
}

// forwardNote describes where the push request came from, attached to the
// forwarded copy.
func forwardNote(conv models.Conversation, msg models.Message) string {
	source := conv.Topic
	if source == "" {
		source = conv.ID
	}
	if msg.Sender != "" {
		return fmt.Sprintf("Push request from %s in %s", msg.Sender, source)
	}
	return fmt.Sprintf("Push request in %s", source)
}

func (m *Monitor) saveSnapshot(ctx context.Context) error {
	return m.store.Save(ctx, m.guard.Snapshot())
}

func (m *Monitor) beginCycle(start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.cycles++
	m.lastCycleStart = start
}

func (m *Monitor) endCycle(start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.lastCycleDur = time.Since(start)
}

func (m *Monitor) recordForwarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarded++
}

func (m *Monitor) recordDeferred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred++
}

func (m *Monitor) recordCycleError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleErrors++
}

// Status reports loop progress for the inspection API.
func (m *Monitor) Status() models.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := models.MonitorStatus{
		Running:           m.running,
		Cycles:            m.cycles,
		MessagesForwarded: m.forwarded,
		MessagesDeferred:  m.deferred,
		CycleErrors:       m.cycleErrors,
	}
	if !m.lastCycleStart.IsZero() {
		status.LastCycleStarted = m.lastCycleStart.UTC().Format(time.RFC3339)
		status.LastCycleDuration = m.lastCycleDur.String()
	}
	return status
}
