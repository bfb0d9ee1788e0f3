package monitor

import (
	"testing"

	"github.com/BTreeMap/PushRelay/internal/models"
)

func TestEligibleConversation(t *testing.T) {
	f := NewFilter("target-conv", "Push Bot")

	tests := []struct {
		name string
		conv models.Conversation
		want bool
	}{
		{"one-on-one", models.Conversation{ID: "c1", Kind: models.KindOneOnOne}, true},
		{"group", models.Conversation{ID: "c2", Kind: models.KindGroup}, true},
		{"meeting", models.Conversation{ID: "c3", Kind: models.KindMeeting}, false},
		{"unknown", models.Conversation{ID: "c4", Kind: models.KindUnknown}, false},
		{"unrecognized kind", models.Conversation{ID: "c5", Kind: models.ConversationKind("channel")}, false},
		{"target itself", models.Conversation{ID: "target-conv", Kind: models.KindOneOnOne}, false},
		{"empty id", models.Conversation{Kind: models.KindOneOnOne}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.EligibleConversation(tt.conv); got != tt.want {
				t.Errorf("EligibleConversation(%s) = %v, want %v", tt.conv.ID, got, tt.want)
			}
		})
	}
}

func TestEligibleConversationWithoutDisplayName(t *testing.T) {
	f := NewFilter("target-conv", "")
	group := models.Conversation{ID: "g1", Kind: models.KindGroup}
	if f.EligibleConversation(group) {
		t.Error("groups need a display name for mention matching")
	}
	direct := models.Conversation{ID: "c1", Kind: models.KindOneOnOne}
	if !f.EligibleConversation(direct) {
		t.Error("one-on-one conversations do not depend on the display name")
	}
}

func TestEligibleMessage(t *testing.T) {
	f := NewFilter("target-conv", "Push Bot")
	direct := models.Conversation{ID: "c1", Kind: models.KindOneOnOne}
	group := models.Conversation{ID: "g1", Kind: models.KindGroup}

	tests := []struct {
		name string
		conv models.Conversation
		msg  models.Message
		want bool
	}{
		{"one-on-one needs no mention", direct, models.Message{Content: "push job-1"}, true},
		{"group without mention", group, models.Message{Content: "push job-1"}, false},
		{"group with structured mention", group, models.Message{Content: "push job-1", Mentions: []string{"Push Bot"}}, true},
		{"group with differently cased structured mention", group, models.Message{Content: "push job-1", Mentions: []string{"push bot"}}, true},
		{"group with other mention", group, models.Message{Content: "push job-1", Mentions: []string{"Someone Else"}}, false},
		{"group with name in text", group, models.Message{Content: "hey push bot, push job-1"}, true},
		{"group with uppercase name in text", group, models.Message{Content: "PUSH BOT please"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.EligibleMessage(tt.conv, tt.msg); got != tt.want {
				t.Errorf("EligibleMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelfAuthored(t *testing.T) {
	f := NewFilter("target-conv", "Push Bot")

	tests := []struct {
		name string
		msg  models.Message
		want bool
	}{
		{"platform flag", models.Message{Sender: "Anything", FromSelf: true}, true},
		{"display name match", models.Message{Sender: "Push Bot"}, true},
		{"display name match ignores case", models.Message{Sender: "push bot"}, true},
		{"other sender", models.Message{Sender: "Alice"}, false},
		{"empty sender", models.Message{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.SelfAuthored(tt.msg); got != tt.want {
				t.Errorf("SelfAuthored() = %v, want %v", got, tt.want)
			}
		})
	}

	// Without a display name only the platform flag can identify self.
	anon := NewFilter("target-conv", "")
	if anon.SelfAuthored(models.Message{Sender: "Push Bot"}) {
		t.Error("no display name means no name-based self match")
	}
	if !anon.SelfAuthored(models.Message{Sender: "Push Bot", FromSelf: true}) {
		t.Error("platform flag should identify self regardless of display name")
	}
}
