// Package twilioconv wraps the Twilio Conversations API as a PushRelay
// conversation platform.
package twilioconv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/PushRelay/internal/messaging"
	"github.com/BTreeMap/PushRelay/internal/models"
	"github.com/twilio/twilio-go"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
)

const listPageSize = 50

// Opts holds configuration options for the Twilio Conversations client.
type Opts struct {
	AccountSID string
	AuthToken  string
	Identity   string
}

// Option defines a configuration option for the Twilio Conversations client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithIdentity sets the conversation identity the relay posts as. Messages
// authored by this identity are flagged FromSelf.
func WithIdentity(identity string) Option {
	return func(o *Opts) { o.Identity = identity }
}

// Client wraps the Twilio REST API for Conversations.
type Client struct {
	client   *twilio.RestClient
	identity string
}

var _ messaging.Service = (*Client)(nil)

// NewClient creates a Twilio Conversations client. Credentials fall back to
// the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_IDENTITY environment
// variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.Identity == "" {
		cfg.Identity = os.Getenv("TWILIO_IDENTITY")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"Identity_set", cfg.Identity != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:   client,
		identity: cfg.Identity,
	}, nil
}

// Start performs no background setup; credentials are checked on first use.
func (c *Client) Start(ctx context.Context) error {
	slog.Debug("Twilio Conversations client started")
	return nil
}

// Stop releases nothing.
func (c *Client) Stop() error {
	return nil
}

// ValidateAndCanonicalizeTarget checks that the target is a Conversation
// SID.
func (c *Client) ValidateAndCanonicalizeTarget(target string) (string, error) {
	canonical := strings.TrimSpace(target)
	if canonical == "" {
		return "", models.ErrEmptyTarget
	}
	if !strings.HasPrefix(canonical, "CH") {
		return "", fmt.Errorf("target %q does not look like a Conversation SID", canonical)
	}
	return canonical, nil
}

// Conversations lists the account's conversations. Twilio does not expose a
// conversation kind, so it is derived from the participant count: two or
// fewer participants is one-to-one, more is a group. When the participant
// list cannot be fetched the kind is reported unknown.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	params := &conversations.ListConversationParams{}
	params.SetPageSize(listPageSize)
	convs, err := c.client.ConversationsV1.ListConversation(params)
	if err != nil {
		slog.Error("Twilio ListConversation failed", "error", err)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]models.Conversation, 0, len(convs))
	for _, conv := range convs {
		if conv.Sid == nil {
			continue
		}
		out = append(out, models.Conversation{
			ID:    *conv.Sid,
			Kind:  c.kindOf(*conv.Sid),
			Topic: deref(conv.FriendlyName),
		})
	}
	slog.Debug("Twilio conversations listed", "count", len(out))
	return out, nil
}

func (c *Client) kindOf(conversationSID string) models.ConversationKind {
	params := &conversations.ListConversationParticipantParams{}
	params.SetPageSize(listPageSize)
	participants, err := c.client.ConversationsV1.ListConversationParticipant(conversationSID, params)
	if err != nil {
		slog.Warn("Twilio participant list failed, reporting unknown kind", "conversation_sid", conversationSID, "error", err)
		return models.KindUnknown
	}
	if len(participants) <= 2 {
		return models.KindOneOnOne
	}
	return models.KindGroup
}

// Messages returns conversation messages strictly after since, ascending.
// Twilio serves them in ascending order already; the cursor filter runs
// client-side.
func (c *Client) Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	params := &conversations.ListConversationMessageParams{}
	params.SetOrder("asc")
	params.SetPageSize(listPageSize)
	raw, err := c.client.ConversationsV1.ListConversationMessage(conversationID, params)
	if err != nil {
		slog.Error("Twilio ListConversationMessage failed", "conversation_sid", conversationID, "error", err)
		return nil, fmt.Errorf("failed to list messages for %s: %w", conversationID, err)
	}

	var out []models.Message
	for _, m := range raw {
		if m.Sid == nil || m.DateCreated == nil {
			continue
		}
		ts := m.DateCreated.UTC()
		if !ts.After(since) {
			continue
		}
		author := deref(m.Author)
		out = append(out, models.Message{
			ID:             *m.Sid,
			ConversationID: conversationID,
			Sender:         author,
			Content:        deref(m.Body),
			FromSelf:       c.identity != "" && author == c.identity,
			Timestamp:      ts,
		})
	}
	return out, nil
}

// Forward posts a copy of the message into the target conversation. Twilio
// has no native forward, so the note and the quoted original go out as one
// message.
func (c *Client) Forward(ctx context.Context, target string, msg models.Message, note string) (string, error) {
	params := &conversations.CreateConversationMessageParams{}
	params.SetBody(buildForwardBody(msg, note))
	if c.identity != "" {
		params.SetAuthor(c.identity)
	}
	resp, err := c.client.ConversationsV1.CreateConversationMessage(target, params)
	if err != nil {
		slog.Error("Twilio CreateConversationMessage failed", "target", target, "error", err)
		return "", fmt.Errorf("failed to forward message %s: %w", msg.ID, err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("forward of message %s returned no message SID", msg.ID)
	}
	slog.Debug("Twilio message forwarded", "target", target, "forwarded_message_id", *resp.Sid)
	return *resp.Sid, nil
}

// buildForwardBody renders the forwarded copy: the context note first, then
// the original sender and text.
func buildForwardBody(msg models.Message, note string) string {
	quoted := msg.Content
	if msg.Sender != "" {
		quoted = msg.Sender + ": " + quoted
	}
	if note == "" {
		return quoted
	}
	return note + "\n\n" + quoted
}

// React does nothing since the Conversations API does not support message
// reactions.
func (c *Client) React(ctx context.Context, conversationID, messageID, emoji string) error {
	slog.Debug("Twilio React ignored (unsupported)", "conversation_sid", conversationID, "message_sid", messageID, "emoji", emoji)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
