// Package graph implements the Microsoft Teams conversation platform on top
// of the Microsoft Graph REST API.
//
// The client signs in with the OAuth device code flow, lists the account's
// chats, pages through chat messages newest-first until it passes the poll
// cursor, and forwards messages with the forwardToChat endpoint. HTML bodies
// are flattened to plain text before detection.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/PushRelay/internal/messaging"
	"github.com/BTreeMap/PushRelay/internal/models"
	retry "github.com/codeGROOVE-dev/retry-go"
)

const (
	// DefaultBaseURL is the Microsoft Graph API root.
	DefaultBaseURL = "https://graph.microsoft.com"
	// messagePageSize is the page size used when listing chats and messages.
	messagePageSize = 50
)

// Opts holds configuration options for the Graph client.
type Opts struct {
	ClientID   string
	TenantID   string
	TokenFile  string
	QRPath     string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Graph client.
type Option func(*Opts)

// WithClientID sets the Azure AD application (client) id.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithTenantID sets the Azure AD tenant id.
func WithTenantID(id string) Option {
	return func(o *Opts) { o.TenantID = id }
}

// WithTokenFile sets the path where the OAuth token is cached.
func WithTokenFile(path string) Option {
	return func(o *Opts) { o.TokenFile = path }
}

// WithQRPath writes the sign-in QR code to a file instead of stdout.
func WithQRPath(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithBaseURL overrides the Graph API root (for tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient supplies a pre-authenticated HTTP client, skipping the
// device code flow (for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = hc }
}

// Client talks to Microsoft Graph on behalf of the signed-in user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	tenantID   string
	tokenFile  string
	qrPath     string

	selfID   string
	selfName string
}

var _ messaging.Service = (*Client)(nil)

// NewClient creates a Graph client. The client id and tenant fall back to
// the PUSHRELAY_GRAPH_CLIENT_ID and PUSHRELAY_GRAPH_TENANT_ID environment
// variables; the tenant defaults to "common".
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("PUSHRELAY_GRAPH_CLIENT_ID")
	}
	if cfg.TenantID == "" {
		cfg.TenantID = os.Getenv("PUSHRELAY_GRAPH_TENANT_ID")
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "common"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = "graph_token.json"
	}
	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		tenantID:   cfg.TenantID,
		tokenFile:  cfg.TokenFile,
		qrPath:     cfg.QRPath,
	}
}

// Graph wire types. Only the fields the relay reads are declared.
type identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type chatList struct {
	Value    []chatItem `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

type chatItem struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	ChatType string `json:"chatType"`
}

type messageList struct {
	Value    []chatMessage `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

type chatMessage struct {
	ID              string              `json:"id"`
	MessageType     string              `json:"messageType"`
	CreatedDateTime time.Time           `json:"createdDateTime"`
	From            *messageFrom        `json:"from"`
	Body            messageBody         `json:"body"`
	Attachments     []messageAttachment `json:"attachments"`
	Mentions        []messageMention    `json:"mentions"`
}

type messageFrom struct {
	User *identity `json:"user"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type messageAttachment struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	Name        string `json:"name"`
	Content     string `json:"content"`
}

type messageMention struct {
	MentionText string             `json:"mentionText"`
	Mentioned   *mentionedIdentity `json:"mentioned"`
}

type mentionedIdentity struct {
	User *identity `json:"user"`
}

type forwardRequest struct {
	TargetChatIDs     []string `json:"targetChatIds"`
	MessageIDs        []string `json:"messageIds"`
	AdditionalMessage string   `json:"additionalMessage,omitempty"`
}

type forwardResponse struct {
	Value []struct {
		TargetChatID       string `json:"targetChatId"`
		ForwardedMessageID string `json:"forwardedMessageId"`
	} `json:"value"`
}

// Start authenticates (device code flow on first run) and resolves the
// signed-in user so self-authored messages can be flagged.
func (c *Client) Start(ctx context.Context) error {
	if c.httpClient == nil {
		httpClient, err := c.authenticate(ctx)
		if err != nil {
			return fmt.Errorf("graph authentication failed: %w", err)
		}
		c.httpClient = httpClient
	}
	var me identity
	if err := c.getJSON(ctx, c.baseURL+"/v1.0/me", &me); err != nil {
		return fmt.Errorf("failed to resolve signed-in user: %w", err)
	}
	c.selfID = me.ID
	c.selfName = me.DisplayName
	slog.Info("Client.Start: Graph client ready", "user", c.selfName)
	return nil
}

// Stop releases nothing; the HTTP client has no persistent connection state
// worth tearing down.
func (c *Client) Stop() error {
	return nil
}

// SelfName returns the display name of the signed-in user, available after
// Start.
func (c *Client) SelfName() string {
	return c.selfName
}

// ValidateAndCanonicalizeTarget checks that the target looks like a Teams
// chat id.
func (c *Client) ValidateAndCanonicalizeTarget(target string) (string, error) {
	canonical := strings.TrimSpace(target)
	if canonical == "" {
		return "", models.ErrEmptyTarget
	}
	if !strings.Contains(canonical, "@thread.") {
		return "", fmt.Errorf("target %q does not look like a Teams chat id", canonical)
	}
	return canonical, nil
}

// Conversations lists the chats the signed-in user participates in.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	u := fmt.Sprintf("%s/v1.0/me/chats?$top=%d", c.baseURL, messagePageSize)
	for u != "" {
		var page chatList
		if err := c.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("failed to list chats: %w", err)
		}
		for _, chat := range page.Value {
			out = append(out, models.Conversation{
				ID:    chat.ID,
				Kind:  kindFromChatType(chat.ChatType),
				Topic: chat.Topic,
			})
		}
		u = page.NextLink
	}
	slog.Debug("Client.Conversations: chats listed", "count", len(out))
	return out, nil
}

func kindFromChatType(chatType string) models.ConversationKind {
	switch chatType {
	case "oneOnOne":
		return models.KindOneOnOne
	case "group":
		return models.KindGroup
	case "meeting":
		return models.KindMeeting
	default:
		return models.KindUnknown
	}
}

// Messages returns chat messages with timestamps strictly after since, in
// ascending order. Graph serves messages newest-first, so paging stops as
// soon as a message at or before the cursor appears.
func (c *Client) Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	var out []models.Message
	u := fmt.Sprintf("%s/v1.0/me/chats/%s/messages?$top=%d", c.baseURL, url.PathEscape(conversationID), messagePageSize)
	for u != "" {
		var page messageList
		if err := c.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("failed to list messages for %s: %w", conversationID, err)
		}
		passedCursor := false
		for _, raw := range page.Value {
			if !raw.CreatedDateTime.After(since) {
				passedCursor = true
				break
			}
			if raw.MessageType != "message" {
				continue
			}
			out = append(out, c.toMessage(conversationID, raw))
		}
		if passedCursor {
			break
		}
		u = page.NextLink
	}
	// Reverse into ascending timestamp order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *Client) toMessage(conversationID string, raw chatMessage) models.Message {
	msg := models.Message{
		ID:             raw.ID,
		ConversationID: conversationID,
		Timestamp:      raw.CreatedDateTime.UTC(),
	}
	if raw.From != nil && raw.From.User != nil {
		msg.Sender = raw.From.User.DisplayName
		msg.FromSelf = c.selfID != "" && raw.From.User.ID == c.selfID
	}
	if strings.EqualFold(raw.Body.ContentType, "html") {
		msg.Content = htmlToText(raw.Body.Content)
	} else {
		msg.Content = collapseWhitespace(raw.Body.Content)
	}
	for _, m := range raw.Mentions {
		if m.Mentioned != nil && m.Mentioned.User != nil && m.Mentioned.User.DisplayName != "" {
			msg.Mentions = append(msg.Mentions, m.Mentioned.User.DisplayName)
		}
	}
	for _, a := range raw.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ContentType: a.ContentType,
			Content:     a.Content,
			Name:        a.Name,
		})
	}
	return msg
}

// Forward forwards the message into the target chat with an additional
// context note. Forwards are never auto-retried; a failed forward leaves the
// message unseen and the next poll cycle picks it up again.
func (c *Client) Forward(ctx context.Context, target string, msg models.Message, note string) (string, error) {
	u := fmt.Sprintf("%s/beta/chats/%s/messages/forwardToChat", c.baseURL, url.PathEscape(msg.ConversationID))
	reqBody := forwardRequest{
		TargetChatIDs:     []string{target},
		MessageIDs:        []string{msg.ID},
		AdditionalMessage: note,
	}
	var resp forwardResponse
	if err := c.postJSON(ctx, u, reqBody, &resp); err != nil {
		return "", fmt.Errorf("failed to forward message %s: %w", msg.ID, err)
	}
	if len(resp.Value) == 0 || resp.Value[0].ForwardedMessageID == "" {
		return "", fmt.Errorf("forward of message %s returned no forwarded message id", msg.ID)
	}
	slog.Debug("Client.Forward: message forwarded", "message_id", msg.ID, "target", target, "forwarded_message_id", resp.Value[0].ForwardedMessageID)
	return resp.Value[0].ForwardedMessageID, nil
}

// React sets an emoji reaction on a message.
func (c *Client) React(ctx context.Context, conversationID, messageID, emoji string) error {
	u := fmt.Sprintf("%s/beta/chats/%s/messages/%s/setReaction", c.baseURL, url.PathEscape(conversationID), url.PathEscape(messageID))
	if err := c.postJSON(ctx, u, map[string]string{"reactionType": emoji}, nil); err != nil {
		return fmt.Errorf("failed to react to message %s: %w", messageID, err)
	}
	return nil
}

// getJSON issues a GET with retries on transport errors, throttling, and
// server errors. Other HTTP errors are terminal.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d from %s", resp.StatusCode, u))
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Attempts(4),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("Client.getJSON: retrying request", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	return nil
}

// postJSON issues a single POST without retries. Callers that need
// at-least-once behavior get it from the poll loop, not from resending.
func (c *Client) postJSON(ctx context.Context, u string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, u, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
