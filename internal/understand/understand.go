package understand

import (
	"context"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// Extraction is the structured result of understanding one message.
// MissingFields is the adapter's own completeness view; the engine
// re-derives the authoritative list from the schema registry.
type Extraction struct {
	Type             models.RecordType
	Fields           models.Understanding
	MissingFields    []string
	CandidateOptions map[string][]string
	Summary          string
	Confidence       float64
}

// Adapter turns free text (plus any partially accumulated fields from an
// ongoing clarification) into an Extraction. Implementations may block on
// network calls; they must honor ctx cancellation.
type Adapter interface {
	Understand(ctx context.Context, text string, prior models.Understanding) (*Extraction, error)
}
