package storage

import (
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// numericValue is the strict gate for the value projection: a signed
// decimal literal, nothing else. Partial parses never produce a value.
var numericValue = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ProjectUnderstanding derives the indexed projection columns from an
// understanding mapping. It is the single source of truth for projections:
// both storage backends call it inside the same operation that writes the
// mapping, so the columns can never drift from their source.
//
// The value column reads the "value" key, falling back to "amount" when
// "value" is empty. It stays nil unless the raw string is a strict signed
// decimal.
func ProjectUnderstanding(u models.Understanding, threadID string) models.Projection {
	p := models.Projection{
		Type:     u[models.FieldType],
		Category: u[models.FieldCategory],
		Person:   u[models.FieldPerson],
		Metric:   u[models.FieldMetric],
		Source:   u[models.FieldSource],
		ThreadID: threadID,
	}

	raw := u[models.FieldValue]
	if raw == "" {
		raw = u[models.FieldAmount]
	}
	if raw != "" && numericValue.MatchString(raw) {
		if d, err := decimal.NewFromString(raw); err == nil {
			p.Value = &d
		}
	}
	return p
}
