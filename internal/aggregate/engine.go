package aggregate

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
)

// Engine computes scoped aggregates over the memory store. A multi-identity
// scope always runs as one set-membership query, so query count stays O(1)
// per aggregation no matter how large the family is.
type Engine struct {
	store  storage.Storage
	logger *zap.Logger
}

func NewEngine(store storage.Storage, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Aggregate normalizes every identity in rawScope, registers each as an
// owner (idempotent, so a first-time member contributes zero instead of
// failing), and runs the aggregation in a single query.
func (e *Engine) Aggregate(ctx context.Context, rawScope []string, op models.AggregateOp, field string, f models.MemoryFilter) (*models.AggregateResult, error) {
	if len(rawScope) == 0 {
		return nil, fmt.Errorf("%w: empty scope", models.ErrInvalidIdentity)
	}

	scope := make([]string, 0, len(rawScope))
	for _, raw := range rawScope {
		key, err := NormalizeIdentity(raw)
		if err != nil {
			return nil, err
		}
		scope = append(scope, key)
	}
	scope = lo.Uniq(scope)

	switch op {
	case models.OpSum, models.OpAvg:
		if field != models.FieldValue && field != models.FieldAmount {
			return nil, fmt.Errorf("%w: field %q has no numeric projection", models.ErrSchemaViolation, field)
		}
	case models.OpCount:
	default:
		return nil, fmt.Errorf("unsupported aggregate operation %q", op)
	}

	for _, id := range scope {
		if err := e.store.EnsureOwner(ctx, id); err != nil {
			return nil, fmt.Errorf("registering owner %s: %w", id, err)
		}
	}

	value, rows, err := e.store.Aggregate(ctx, scope, op, field, f)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Aggregation complete",
		zap.String("op", string(op)),
		zap.String("field", field),
		zap.Int("scope_size", len(scope)),
		zap.Int64("rows", rows))

	return &models.AggregateResult{Op: op, Field: field, Value: value, Rows: rows}, nil
}
