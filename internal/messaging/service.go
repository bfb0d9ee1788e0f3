// Package messaging defines the conversation platform abstraction used by
// the monitor loop.
//
// A Service lists conversations, fetches messages after a cursor, forwards a
// message into the target conversation, and optionally reacts to the source
// message. Microsoft Teams (internal/graph) and Twilio Conversations
// (internal/twilioconv) implement it; MockService backs tests and dry runs.
package messaging

import (
	"context"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Service defines a pluggable conversation platform abstraction.
type Service interface {
	// ValidateAndCanonicalizeTarget validates and canonicalizes a target
	// conversation identifier. Returns the canonicalized identifier and an
	// error if validation fails. This allows each platform to implement its
	// own identifier rules.
	ValidateAndCanonicalizeTarget(target string) (string, error)

	// Conversations lists the conversations the account participates in.
	// Implementations report a conversation kind of KindUnknown when the
	// platform does not expose one; callers treat unknown kinds as
	// ineligible.
	Conversations(ctx context.Context) ([]models.Conversation, error)

	// Messages returns messages in the conversation with timestamps
	// strictly after since, in ascending timestamp order. A zero since
	// returns the platform's full retained history.
	Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error)

	// Forward delivers the message into the target conversation together
	// with a short context note, returning the platform id of the forwarded
	// message.
	Forward(ctx context.Context, target string, msg models.Message, note string) (string, error)

	// React attaches an emoji reaction to a message. Platforms without
	// reaction support log and return nil.
	React(ctx context.Context, conversationID, messageID, emoji string) error

	// Start begins any background processing (e.g., authentication).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}
