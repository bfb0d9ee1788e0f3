package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// ForwardCall records one Forward invocation on the mock.
type ForwardCall struct {
	Target  string
	Message models.Message
	Note    string
}

// ReactionCall records one React invocation on the mock.
type ReactionCall struct {
	ConversationID string
	MessageID      string
	Emoji          string
}

// MockService implements Service in memory (for tests and dry runs).
// In tests, use messaging.NewMockService() instead of a real platform client
// to avoid network connections.
type MockService struct {
	mu            sync.Mutex
	conversations []models.Conversation
	messages      map[string][]models.Message
	forwardCalls  []ForwardCall
	reactionCalls []ReactionCall

	conversationsErr error
	messagesErr      map[string]error
	forwardErr       error

	nextForwardID int
}

var _ Service = (*MockService)(nil)

// NewMockService creates an empty mock platform.
func NewMockService() *MockService {
	return &MockService{
		messages:    make(map[string][]models.Message),
		messagesErr: make(map[string]error),
	}
}

// AddConversation registers a conversation the mock account participates in.
func (m *MockService) AddConversation(conv models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = append(m.conversations, conv)
}

// AddMessage appends a message to a conversation's history.
func (m *MockService) AddMessage(conversationID string, msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ConversationID = conversationID
	m.messages[conversationID] = append(m.messages[conversationID], msg)
}

// SetConversationsError makes Conversations fail with err.
func (m *MockService) SetConversationsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationsErr = err
}

// SetMessagesError makes Messages fail for one conversation.
func (m *MockService) SetMessagesError(conversationID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesErr[conversationID] = err
}

// SetForwardError makes Forward fail with err.
func (m *MockService) SetForwardError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwardErr = err
}

// ForwardCalls returns a copy of all recorded Forward invocations.
func (m *MockService) ForwardCalls() []ForwardCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ForwardCall, len(m.forwardCalls))
	copy(out, m.forwardCalls)
	return out
}

// ReactionCalls returns a copy of all recorded React invocations.
func (m *MockService) ReactionCalls() []ReactionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReactionCall, len(m.reactionCalls))
	copy(out, m.reactionCalls)
	return out
}

// ValidateAndCanonicalizeTarget trims whitespace and rejects empty targets.
func (m *MockService) ValidateAndCanonicalizeTarget(target string) (string, error) {
	canonical := strings.TrimSpace(target)
	if canonical == "" {
		return "", models.ErrEmptyTarget
	}
	return canonical, nil
}

// Conversations returns the registered conversations.
func (m *MockService) Conversations(ctx context.Context) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conversationsErr != nil {
		return nil, m.conversationsErr
	}
	out := make([]models.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out, nil
}

// Messages returns messages strictly after since, ascending by timestamp,
// matching the contract real platform clients implement.
func (m *MockService) Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.messagesErr[conversationID]; err != nil {
		return nil, err
	}
	var out []models.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Timestamp.After(since) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Forward records the call and returns a synthetic forwarded message id.
func (m *MockService) Forward(ctx context.Context, target string, msg models.Message, note string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forwardErr != nil {
		return "", m.forwardErr
	}
	m.nextForwardID++
	id := fmt.Sprintf("fwd-%d", m.nextForwardID)
	m.forwardCalls = append(m.forwardCalls, ForwardCall{Target: target, Message: msg, Note: note})
	slog.Debug("MockService.Forward: recorded forward", "target", target, "message_id", msg.ID, "forwarded_message_id", id)
	return id, nil
}

// React records the call.
func (m *MockService) React(ctx context.Context, conversationID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactionCalls = append(m.reactionCalls, ReactionCall{ConversationID: conversationID, MessageID: messageID, Emoji: emoji})
	return nil
}

// Start is a no-op for the mock.
func (m *MockService) Start(ctx context.Context) error {
	return nil
}

// Stop is a no-op for the mock.
func (m *MockService) Stop() error {
	return nil
}
