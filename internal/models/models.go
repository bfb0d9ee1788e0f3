// Package models defines the core data structures for PushRelay.
//
// It includes the conversation and message shapes produced by the platform
// backends, the detection result consumed by the duplicate guard, and the
// persisted snapshot that lets the relay survive restarts without
// re-forwarding or missing requests.
package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ConversationKind classifies a conversation as reported by the platform.
type ConversationKind string

const (
	// KindOneOnOne is a direct conversation between two participants.
	KindOneOnOne ConversationKind = "oneOnOne"
	// KindGroup is a multi-participant conversation.
	KindGroup ConversationKind = "group"
	// KindMeeting is a conversation attached to a meeting; never monitored.
	KindMeeting ConversationKind = "meeting"
	// KindUnknown is any kind the platform reports that we do not recognize.
	// Unknown conversations are never eligible for detection.
	KindUnknown ConversationKind = "unknown"
)

// Validation constants for input validation
const (
	// MaxPatternLength defines the maximum allowed length for a detection pattern
	MaxPatternLength = 512
	// MaxJobIDLength defines the maximum allowed length for an extracted job identifier
	MaxJobIDLength = 256
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyMessageID      = errors.New("message id cannot be empty")
	ErrEmptyTarget         = errors.New("target conversation cannot be empty")
	ErrEmptyPattern        = errors.New("pattern cannot be empty")
	ErrPatternTooLong      = errors.New("pattern exceeds maximum length")
)

// IsValidConversationKind checks if the given conversation kind is one the
// relay understands. KindUnknown is a valid value: it is how backends report
// kinds outside the known set.
func IsValidConversationKind(k ConversationKind) bool {
	switch k {
	case KindOneOnOne, KindGroup, KindMeeting, KindUnknown:
		return true
	default:
		return false
	}
}

// Conversation describes a chat the relay may monitor. Conversations are
// supplied fresh by the platform backend each poll cycle; only the poll
// cursor is persisted.
type Conversation struct {
	ID    string           `json:"id"`
	Kind  ConversationKind `json:"kind"`
	Topic string           `json:"topic,omitempty"` // group name, empty for one-on-one
}

// Validate checks that a conversation is usable by the monitor.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return ErrEmptyConversationID
	}
	return nil
}

// Attachment is an opaque content reference attached to a message. It is
// passed through to the detector untouched.
type Attachment struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Message is a single chat message as normalized by a platform backend.
// Content is plain text; backends strip platform markup before the pipeline
// sees it. Immutable once fetched.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Sender         string       `json:"sender"` // sender display name
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Mentions       []string     `json:"mentions,omitempty"` // display names tagged by the platform
	FromSelf       bool         `json:"from_self,omitempty"` // authored by the monitoring account
	Timestamp      time.Time    `json:"timestamp"`
}

// Validate checks that a message carries the identifiers the pipeline needs.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrEmptyMessageID
	}
	if m.ConversationID == "" {
		return ErrEmptyConversationID
	}
	return nil
}

// Detection is the outcome of running a detector over one message. It is
// consumed immediately by the duplicate guard and never persisted by itself.
type Detection struct {
	Match         bool    `json:"match"`
	JobID         string  `json:"job_id,omitempty"`
	HasAttachment bool    `json:"has_attachment,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// HasJob reports whether the detection carries a forwardable job identifier.
func (d Detection) HasJob() bool {
	return d.Match && d.JobID != ""
}

// NormalizeJobID canonicalizes a job identifier for deduplication. Job
// identifiers compare case-insensitively.
func NormalizeJobID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ForwardRecord captures one committed forward action: which message named
// the job, and what the relayed message in the target conversation was.
type ForwardRecord struct {
	MessageID          string    `json:"message_id"`
	ConversationID     string    `json:"conversation_id"`
	JobID              string    `json:"job_id,omitempty"`
	ForwardedMessageID string    `json:"forwarded_message_id"`
	ForwardedAt        time.Time `json:"forwarded_at"`
}

// Snapshot is the full persisted state of the relay: per-conversation poll
// cursors, the set of message identifiers already evaluated, and the forward
// history. The snapshot is loaded once at startup, mutated in memory by the
// duplicate guard, and flushed through a store.Store.
type Snapshot struct {
	Cursors           map[string]time.Time     `json:"cursors"`
	SeenMessages      map[string]time.Time     `json:"seen_messages"`
	ForwardedMessages map[string]ForwardRecord `json:"forwarded_messages"`
	ForwardedJobs     map[string]time.Time     `json:"forwarded_jobs"` // keyed by normalized job id
}

// NewSnapshot returns an empty snapshot with all maps initialized.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Cursors:           make(map[string]time.Time),
		SeenMessages:      make(map[string]time.Time),
		ForwardedMessages: make(map[string]ForwardRecord),
		ForwardedJobs:     make(map[string]time.Time),
	}
}

// Init fills in any nil maps. Stores call this after decoding so a snapshot
// deserialized from a partial or legacy layout is always safe to use.
func (s *Snapshot) Init() {
	if s.Cursors == nil {
		s.Cursors = make(map[string]time.Time)
	}
	if s.SeenMessages == nil {
		s.SeenMessages = make(map[string]time.Time)
	}
	if s.ForwardedMessages == nil {
		s.ForwardedMessages = make(map[string]ForwardRecord)
	}
	if s.ForwardedJobs == nil {
		s.ForwardedJobs = make(map[string]time.Time)
	}
}

// Seen reports whether a message identifier has already been evaluated.
func (s *Snapshot) Seen(messageID string) bool {
	_, ok := s.SeenMessages[messageID]
	return ok
}

// MarkSeen records a message identifier as evaluated. Once present an
// identifier is never removed.
func (s *Snapshot) MarkSeen(messageID string, at time.Time) {
	if messageID == "" {
		return
	}
	if _, ok := s.SeenMessages[messageID]; !ok {
		s.SeenMessages[messageID] = at.UTC()
	}
}

// JobForwarded reports whether a job identifier has already been relayed.
// Comparison is case-insensitive.
func (s *Snapshot) JobForwarded(jobID string) bool {
	if jobID == "" {
		return false
	}
	_, ok := s.ForwardedJobs[NormalizeJobID(jobID)]
	return ok
}

// MarkForwarded records a committed forward action. The job identifier
// enters the forwarded set at most once; the record is kept per originating
// message.
func (s *Snapshot) MarkForwarded(rec ForwardRecord) {
	if rec.MessageID == "" {
		return
	}
	s.ForwardedMessages[rec.MessageID] = rec
	if rec.JobID != "" {
		key := NormalizeJobID(rec.JobID)
		if _, ok := s.ForwardedJobs[key]; !ok {
			s.ForwardedJobs[key] = rec.ForwardedAt.UTC()
		}
	}
}

// Cursor returns the poll cursor for a conversation, or the zero time if the
// conversation has never been polled.
func (s *Snapshot) Cursor(conversationID string) time.Time {
	return s.Cursors[conversationID]
}

// AdvanceCursor moves a conversation's poll cursor forward. Cursors are
// monotonically non-decreasing; attempts to move one backward are ignored.
// Returns whether the cursor actually advanced.
func (s *Snapshot) AdvanceCursor(conversationID string, ts time.Time) bool {
	if conversationID == "" || ts.IsZero() {
		return false
	}
	cur, ok := s.Cursors[conversationID]
	if ok && !ts.After(cur) {
		return false
	}
	s.Cursors[conversationID] = ts.UTC()
	return true
}

// Records returns the forward history, newest first.
func (s *Snapshot) Records() []ForwardRecord {
	out := make([]ForwardRecord, 0, len(s.ForwardedMessages))
	for _, rec := range s.ForwardedMessages {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ForwardedAt.Equal(out[j].ForwardedAt) {
			return out[i].ForwardedAt.After(out[j].ForwardedAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// Clone returns a deep copy of the snapshot, safe to serialize while the
// original keeps mutating under the guard's lock.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for k, v := range s.Cursors {
		out.Cursors[k] = v
	}
	for k, v := range s.SeenMessages {
		out.SeenMessages[k] = v
	}
	for k, v := range s.ForwardedMessages {
		out.ForwardedMessages[k] = v
	}
	for k, v := range s.ForwardedJobs {
		out.ForwardedJobs[k] = v
	}
	return out
}

// SnapshotCounts summarizes snapshot set sizes for the status API.
type SnapshotCounts struct {
	Conversations     int `json:"conversations"`
	SeenMessages      int `json:"seen_messages"`
	ForwardedMessages int `json:"forwarded_messages"`
	ForwardedJobs     int `json:"forwarded_jobs"`
}

// Counts returns the sizes of the snapshot's sets.
func (s *Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Conversations:     len(s.Cursors),
		SeenMessages:      len(s.SeenMessages),
		ForwardedMessages: len(s.ForwardedMessages),
		ForwardedJobs:     len(s.ForwardedJobs),
	}
}

// MonitorStatus reports the monitor loop's running state for the status API.
// LastCycleStarted is RFC 3339; both timing fields are empty until the first
// cycle runs.
type MonitorStatus struct {
	Running           bool   `json:"running"`
	Cycles            uint64 `json:"cycles"`
	LastCycleStarted  string `json:"last_cycle_started,omitempty"`
	LastCycleDuration string `json:"last_cycle_duration,omitempty"`
	MessagesForwarded uint64 `json:"messages_forwarded"`
	MessagesDeferred  uint64 `json:"messages_deferred"`
	CycleErrors       uint64 `json:"cycle_errors"`
}

// PatternRequest is the payload for adding a detection pattern at runtime.
type PatternRequest struct {
	Pattern string `json:"pattern"`
}

// Validate validates a PatternRequest.
func (r *PatternRequest) Validate() error {
	if r.Pattern == "" {
		return ErrEmptyPattern
	}
	if len(r.Pattern) > MaxPatternLength {
		return ErrPatternTooLong
	}
	return nil
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
