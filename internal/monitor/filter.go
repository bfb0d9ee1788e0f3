package monitor

import (
	"strings"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Filter decides which conversations and messages are eligible for
// detection. Messages authored by the monitoring account are ineligible in
// every kind. One-to-one chats are otherwise always eligible; group chats
// only when the message mentions the monitoring account; meeting chats and
// conversations with an unrecognized kind are never eligible. The relay
// target itself is never monitored.
type Filter struct {
	target      string
	displayName string
}

// NewFilter builds a filter for the given relay target and account display
// name. An empty display name disables group chats entirely, since mentions
// cannot be matched.
func NewFilter(target, displayName string) *Filter {
	return &Filter{target: target, displayName: displayName}
}

// EligibleConversation reports whether any message in the conversation could
// be evaluated.
func (f *Filter) EligibleConversation(conv models.Conversation) bool {
	if conv.ID == "" || conv.ID == f.target {
		return false
	}
	switch conv.Kind {
	case models.KindOneOnOne:
		return true
	case models.KindGroup:
		return f.displayName != ""
	default:
		// Meetings and unknown kinds fail closed.
		return false
	}
}

// EligibleMessage reports whether this specific message should go to the
// detector. For group conversations the account must be mentioned, either
// through a structured platform mention or by name in the text.
func (f *Filter) EligibleMessage(conv models.Conversation, msg models.Message) bool {
	if conv.Kind == models.KindOneOnOne {
		return true
	}
	return f.mentioned(msg)
}

// SelfAuthored reports whether the message was written by the monitoring
// account: either the platform flagged it, or the sender matches the
// configured display name.
func (f *Filter) SelfAuthored(msg models.Message) bool {
	if msg.FromSelf {
		return true
	}
	return f.displayName != "" && strings.EqualFold(msg.Sender, f.displayName)
}

func (f *Filter) mentioned(msg models.Message) bool {
	if f.displayName == "" {
		return false
	}
	for _, name := range msg.Mentions {
		if strings.EqualFold(name, f.displayName) {
			return true
		}
	}
	return containsFold(msg.Content, f.displayName)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
