package twilioconv

import (
	"context"
	"testing"

	"github.com/BTreeMap/PushRelay/internal/models"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Error("NewClient without credentials should fail")
	}
	if _, err := NewClient(WithAccountSID("AC123")); err == nil {
		t.Error("NewClient without auth token should fail")
	}
}

func TestNewClientFromOptions(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithIdentity("pushrelay"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.identity != "pushrelay" {
		t.Errorf("identity not applied, got %q", c.identity)
	}
}

func TestValidateAndCanonicalizeTarget(t *testing.T) {
	c := &Client{}
	got, err := c.ValidateAndCanonicalizeTarget("  CH0123456789abcdef  ")
	if err != nil {
		t.Fatalf("valid SID rejected: %v", err)
	}
	if got != "CH0123456789abcdef" {
		t.Errorf("expected trimmed SID, got %q", got)
	}
	if _, err := c.ValidateAndCanonicalizeTarget(""); err == nil {
		t.Error("empty target should be rejected")
	}
	if _, err := c.ValidateAndCanonicalizeTarget("19:abc@thread.v2"); err == nil {
		t.Error("non-Conversation SID should be rejected")
	}
}

func TestBuildForwardBody(t *testing.T) {
	msg := models.Message{Sender: "Alice", Content: "please push job-7"}
	got := buildForwardBody(msg, "Push request from Alice")
	want := "Push request from Alice\n\nAlice: please push job-7"
	if got != want {
		t.Errorf("buildForwardBody = %q, want %q", got, want)
	}

	if got := buildForwardBody(models.Message{Content: "bare"}, ""); got != "bare" {
		t.Errorf("body without note or sender should pass through, got %q", got)
	}
}

func TestReactIsNoOp(t *testing.T) {
	c := &Client{}
	if err := c.React(context.Background(), "CH1", "IM1", "👀"); err != nil {
		t.Errorf("React should be a logged no-op, got error: %v", err)
	}
}
