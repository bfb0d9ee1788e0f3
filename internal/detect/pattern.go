package detect

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// DefaultPattern recognizes "push <job>" phrasings, with or without quotes
// around the job identifier.
const DefaultPattern = `(?i)push\s+['"]?([\w-]+)['"]?`

// PatternDetector matches configured regular expressions against message
// content. Patterns are tried in order; the first match anywhere in the
// content wins and its capturing group becomes the job identifier.
type PatternDetector struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
}

var _ Detector = (*PatternDetector)(nil)

// NewPatternDetector compiles the given patterns. Every pattern must compile
// and must contain exactly one capturing group; anything else is a
// configuration error and fails construction.
func NewPatternDetector(patterns []string) (*PatternDetector, error) {
	d := &PatternDetector{}
	for _, p := range patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		d.patterns = append(d.patterns, re)
	}
	slog.Debug("PatternDetector created", "patterns", len(d.patterns))
	return d, nil
}

// compilePattern validates one detection pattern.
func compilePattern(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, models.ErrEmptyPattern
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("pattern %q must contain exactly one capturing group, has %d", p, re.NumSubexp())
	}
	return re, nil
}

// Detect tries each pattern in order and returns the first extraction.
func (d *PatternDetector) Detect(ctx context.Context, content string, attachments []models.Attachment) (models.Detection, error) {
	if content == "" {
		return models.Detection{}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, re := range d.patterns {
		m := re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		return models.Detection{
			Match:         true,
			JobID:         trimQuotes(m[1]),
			HasAttachment: len(attachments) > 0,
			Confidence:    1.0,
		}, nil
	}
	return models.Detection{}, nil
}

// AddPattern appends a validated pattern at runtime.
func (d *PatternDetector) AddPattern(p string) error {
	re, err := compilePattern(p)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.patterns = append(d.patterns, re)
	d.mu.Unlock()
	slog.Info("PatternDetector.AddPattern: pattern added", "pattern", p)
	return nil
}

// Patterns returns the current pattern strings in evaluation order.
func (d *PatternDetector) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.patterns))
	for i, re := range d.patterns {
		out[i] = re.String()
	}
	return out
}

// trimQuotes strips quote characters surrounding an extracted job identifier.
func trimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `'"`)
}
