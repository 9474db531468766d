package schema

import (
	"sync"

	"github.com/samber/lo"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// FieldSpec declares one required field of a record type: its mapping key,
// the question asked when it is missing, and whether its answers come from
// a bounded candidate set (resolved by the caller, e.g. household members).
type FieldSpec struct {
	Name            string
	Prompt          string
	MemberCandidate bool
}

// TypeSchema is the declaration for one record type. Required is ordered by
// ask priority: when several fields are missing, the first one listed is the
// one asked about.
type TypeSchema struct {
	Type     models.RecordType
	Required []FieldSpec
	Optional []string
}

// Registry maps record types to their field schemas. Lookups are pure;
// Register allows extension at runtime without touching callers.
type Registry struct {
	mu      sync.RWMutex
	schemas map[models.RecordType]TypeSchema
}

// NewRegistry returns a registry pre-loaded with the built-in record types.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[models.RecordType]TypeSchema)}
	for _, s := range builtinSchemas() {
		r.Register(s)
	}
	return r
}

func builtinSchemas() []TypeSchema {
	return []TypeSchema{
		{
			Type: models.TypeExpense,
			Required: []FieldSpec{
				{Name: models.FieldAmount, Prompt: "请问金额是多少？"},
				{Name: models.FieldPerson, Prompt: "这笔开销是谁的？", MemberCandidate: true},
				{Name: models.FieldCategory, Prompt: "属于哪个分类？（如：餐饮、购物、交通）"},
			},
			Optional: []string{models.FieldValue, models.FieldSubject, models.FieldSource, models.FieldIntent},
		},
		{
			Type: models.TypeHealth,
			Required: []FieldSpec{
				{Name: models.FieldMetric, Prompt: "记录的是哪项指标？（如：身高、体重、体温）"},
				{Name: models.FieldValue, Prompt: "数值是多少？"},
				{Name: models.FieldPerson, Prompt: "这是谁的记录？", MemberCandidate: true},
			},
			Optional: []string{models.FieldSource, models.FieldIntent},
		},
		{
			Type: models.TypeReminder,
			Required: []FieldSpec{
				{Name: models.FieldSubject, Prompt: "需要提醒什么事情？"},
			},
			Optional: []string{models.FieldPerson, models.FieldSource, models.FieldIntent, "remind_at", "advance_days"},
		},
		{
			Type:     models.TypeInfo,
			Required: nil,
			Optional: []string{models.FieldSubject, models.FieldCategory, models.FieldSource, models.FieldIntent},
		},
	}
}

// Register adds or replaces the schema for a record type.
func (r *Registry) Register(s TypeSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Type] = s
}

// Required returns the ordered required fields for a record type. Unknown
// types have no required fields and persist as free-form memories.
func (r *Registry) Required(t models.RecordType) []FieldSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[t].Required
}

// Missing returns the required fields of t that u does not fill, in ask
// priority order. An empty string does not count as filled.
func (r *Registry) Missing(t models.RecordType, u models.Understanding) []FieldSpec {
	return lo.Filter(r.Required(t), func(f FieldSpec, _ int) bool {
		return u[f.Name] == ""
	})
}

// Known reports whether field is declared (required or optional) for t.
// The type field itself is always known.
func (r *Registry) Known(t models.RecordType, field string) bool {
	if field == models.FieldType {
		return true
	}
	r.mu.RLock()
	s, ok := r.schemas[t]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	if lo.ContainsBy(s.Required, func(f FieldSpec) bool { return f.Name == field }) {
		return true
	}
	return lo.Contains(s.Optional, field)
}
