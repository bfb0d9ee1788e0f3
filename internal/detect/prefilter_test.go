package detect

import (
	"context"
	"testing"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// recordingDetector counts how often the inner detector is consulted.
type recordingDetector struct {
	result models.Detection
	calls  int
}

func (r *recordingDetector) Detect(ctx context.Context, content string, attachments []models.Attachment) (models.Detection, error) {
	r.calls++
	return r.result, nil
}

func TestPrefilter_KeywordGate(t *testing.T) {
	cases := []struct {
		content string
		passes  bool
	}{
		{"please push the build", true},
		{"I pushed it yesterday", true},
		{"pushing now", true},
		{"he pushes back", true},
		{"PUSH JOB-1", true},
		{"the IT team asked about this", true},
		{"ask IT.", true},
		{"IT", true},
		{"it is fine", false},
		{"a bit of luck", false},
		{"with great power", false},
		{"ITS broken", false},
		{"EXIT now", false},
		{"commit the change", false},
		{"pushback expected", false},
		{"", false},
	}
	for _, c := range cases {
		inner := &recordingDetector{result: models.Detection{Match: true, JobID: "job-1"}}
		p := NewPrefilter(inner)
		det, err := p.Detect(context.Background(), c.content, nil)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", c.content, err)
		}
		if c.passes {
			if inner.calls != 1 {
				t.Errorf("content %q should reach the inner detector", c.content)
			}
			if !det.Match {
				t.Errorf("content %q should carry the inner result", c.content)
			}
		} else {
			if inner.calls != 0 {
				t.Errorf("content %q should be rejected before the inner detector", c.content)
			}
			if det.Match {
				t.Errorf("content %q should be a non-match", c.content)
			}
		}
	}
}

func TestPrefilter_PassesThroughInnerResult(t *testing.T) {
	inner := &recordingDetector{result: models.Detection{Match: true, JobID: "job-5", Confidence: 0.9}}
	p := NewPrefilter(inner)
	det, err := p.Detect(context.Background(), "push job-5", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if det.JobID != "job-5" || det.Confidence != 0.9 {
		t.Errorf("inner result not passed through: %+v", det)
	}
}
