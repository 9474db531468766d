package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordType is the inferred kind of a memory record.
type RecordType string

const (
	TypeExpense  RecordType = "expense"
	TypeHealth   RecordType = "health"
	TypeReminder RecordType = "reminder"
	TypeInfo     RecordType = "info"
)

// Well-known understanding field keys. The mapping may carry additional
// keys the registry does not know about; those are kept for forward
// compatibility but never projected.
const (
	FieldType     = "type"
	FieldCategory = "category"
	FieldPerson   = "person"
	FieldMetric   = "metric"
	FieldValue    = "value"
	FieldAmount   = "amount"
	FieldSubject  = "subject"
	FieldSource   = "source"
	FieldIntent   = "intent"
)

// Understanding is the semi-structured field mapping extracted from a
// natural-language message.
type Understanding map[string]string

// Clone returns a shallow copy safe to mutate.
func (u Understanding) Clone() Understanding {
	out := make(Understanding, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Memory is a persisted structured fact extracted from a message.
// Projection holds the typed columns derived from Understanding at write
// time; the two must never diverge.
type Memory struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	ThreadID      string        `json:"thread_id"`
	Shared        bool          `json:"shared"`
	Content       string        `json:"content"`
	Understanding Understanding `json:"understanding"`
	Projection    Projection    `json:"projection"`
	OccurredAt    time.Time     `json:"occurred_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Projection is the set of indexed columns derived from an Understanding
// mapping. Value is nil unless the source field is a strict signed decimal.
type Projection struct {
	Type     string           `json:"type"`
	Category string           `json:"category"`
	Person   string           `json:"person"`
	Metric   string           `json:"metric"`
	Source   string           `json:"source"`
	ThreadID string           `json:"thread_id"`
	Value    *decimal.Decimal `json:"value,omitempty"`
}
