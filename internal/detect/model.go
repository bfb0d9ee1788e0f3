package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PushRelay/internal/genai"
	"github.com/BTreeMap/PushRelay/internal/models"
)

// defaultSystemPrompt instructs the model to answer with a strict JSON
// verdict so the reply can be unmarshaled directly.
const defaultSystemPrompt = `You are a message analyzer for a chat relay.
Determine whether the message asks someone to push or prioritize a job.
If it does, extract the job identifier when one is mentioned.
Respond with JSON only: {"is_push_request": true or false, "job_id": "<identifier>" or null}`

// modelVerdict is the JSON contract the model is asked to produce.
type modelVerdict struct {
	IsPushRequest bool    `json:"is_push_request"`
	JobID         *string `json:"job_id"`
}

// ModelOpts holds configuration options for the model detector.
type ModelOpts struct {
	SystemPrompt string
}

// ModelOption defines a configuration option for the model detector.
type ModelOption func(*ModelOpts)

// WithSystemPrompt overrides the default analysis prompt.
func WithSystemPrompt(prompt string) ModelOption {
	return func(o *ModelOpts) { o.SystemPrompt = prompt }
}

// ModelDetector delegates detection to an external language model through
// the genai client. The caller bounds the call with a context deadline.
type ModelDetector struct {
	client genai.ClientInterface
	prompt string
}

var _ Detector = (*ModelDetector)(nil)

// NewModelDetector creates a detector backed by the given model client.
func NewModelDetector(client genai.ClientInterface, opts ...ModelOption) *ModelDetector {
	var cfg ModelOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &ModelDetector{client: client, prompt: cfg.SystemPrompt}
}

// Detect asks the model for a verdict on the message content.
func (d *ModelDetector) Detect(ctx context.Context, content string, attachments []models.Attachment) (models.Detection, error) {
	if content == "" {
		return models.Detection{}, nil
	}

	raw, err := d.client.CompleteJSON(ctx, d.prompt, content)
	if err != nil {
		return models.Detection{}, fmt.Errorf("model detection failed: %w", err)
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return models.Detection{}, fmt.Errorf("model returned unparseable verdict %q: %w", raw, err)
	}

	jobID := ""
	if verdict.JobID != nil {
		jobID = trimQuotes(*verdict.JobID)
	}
	if len(jobID) > models.MaxJobIDLength {
		return models.Detection{}, fmt.Errorf("model returned oversized job id (%d chars)", len(jobID))
	}

	slog.Debug("ModelDetector.Detect: verdict received", "match", verdict.IsPushRequest, "job_id", jobID)
	return models.Detection{
		Match:         verdict.IsPushRequest,
		JobID:         jobID,
		HasAttachment: len(attachments) > 0,
		Confidence:    0.9,
	}, nil
}
