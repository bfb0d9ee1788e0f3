// Package detect implements push-request detection over chat messages.
//
// Detection is polymorphic: the monitor only depends on the Detector
// interface, so the pattern-based default can be swapped for the model-backed
// variant (or any other implementation) without touching the pipeline.
package detect

import (
	"context"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// Detector extracts a job identifier from message content. Implementations
// must be safe for concurrent use and must not mutate shared state. A message
// that contains no push request is a (Detection{Match: false}, nil) result,
// not an error; errors are reserved for the detector itself failing.
type Detector interface {
	Detect(ctx context.Context, content string, attachments []models.Attachment) (models.Detection, error)
}
