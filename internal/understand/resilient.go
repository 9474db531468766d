package understand

import (
	"context"

	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// Resilient wraps a primary adapter with a deterministic fallback. When the
// primary fails (it already retried once internally), the fallback's
// keyword extraction is used if it managed to infer something; otherwise
// the original unavailability error surfaces so the caller can degrade to a
// "please try again" reply without persisting anything.
type Resilient struct {
	primary  Adapter
	fallback Adapter
	logger   *zap.Logger
}

func NewResilient(primary, fallback Adapter, logger *zap.Logger) *Resilient {
	return &Resilient{primary: primary, fallback: fallback, logger: logger}
}

func (a *Resilient) Understand(ctx context.Context, text string, prior models.Understanding) (*Extraction, error) {
	ex, err := a.primary.Understand(ctx, text, prior)
	if err == nil {
		return ex, nil
	}
	a.logger.Warn("Primary understanding failed, trying keyword fallback", zap.Error(err))

	fb, ferr := a.fallback.Understand(ctx, text, prior)
	if ferr != nil {
		return nil, err
	}
	// Outside a clarification, an info-typed fallback means the keywords
	// recognized nothing; degrade instead of recording noise.
	if fb.Type == models.TypeInfo && len(prior) == 0 {
		return nil, err
	}
	return fb, nil
}
