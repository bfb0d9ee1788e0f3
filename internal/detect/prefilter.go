package detect

import (
	"context"
	"regexp"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Keyword gate applied before the inner detector runs. Either a push word in
// any tense, or "IT" standing alone in exact upper case so common words like
// "it", "bit" and "with" never trigger the expensive inner detector.
var (
	pushWordRe     = regexp.MustCompile(`(?i)\bpush(?:ed|ing|es)?\b`)
	standaloneITRe = regexp.MustCompile(`(?:^|[^0-9A-Za-z_])IT(?:[^0-9A-Za-z_]|$)`)
)

// Prefilter wraps another detector with a cheap keyword check. Content that
// contains neither keyword is rejected without consulting the inner detector,
// which keeps model token spend proportional to plausible requests.
type Prefilter struct {
	inner Detector
}

var _ Detector = (*Prefilter)(nil)

// NewPrefilter wraps the given detector with the keyword gate.
func NewPrefilter(inner Detector) *Prefilter {
	return &Prefilter{inner: inner}
}

// Detect applies the keyword gate, then delegates.
func (p *Prefilter) Detect(ctx context.Context, content string, attachments []models.Attachment) (models.Detection, error) {
	if content == "" {
		return models.Detection{}, nil
	}
	if !matchesKeywords(content) {
		return models.Detection{}, nil
	}
	return p.inner.Detect(ctx, content, attachments)
}

func matchesKeywords(content string) bool {
	if pushWordRe.MatchString(content) {
		return true
	}
	return standaloneITRe.MatchString(content)
}
