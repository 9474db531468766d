package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateOp names an aggregation operation.
type AggregateOp string

const (
	OpSum   AggregateOp = "sum"
	OpCount AggregateOp = "count"
	OpAvg   AggregateOp = "avg"
)

// AggregateResult is a typed numeric aggregation outcome. Op echoes the
// requested operation so callers can tell "zero activity" from a missing
// field.
type AggregateResult struct {
	Op    AggregateOp     `json:"op"`
	Field string          `json:"field"`
	Value decimal.Decimal `json:"value"`
	Rows  int64           `json:"rows"`
}

// MemoryFilter narrows a store query. Zero values mean "no constraint".
type MemoryFilter struct {
	Type     RecordType
	Category string
	Person   string
	Metric   string
	ThreadID string
	Since    time.Time
	Until    time.Time
}
