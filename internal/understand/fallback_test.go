package understand

import (
	"context"
	"testing"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

func TestKeywordAdapter(t *testing.T) {
	a := NewKeywordAdapter()

	tests := []struct {
		name       string
		text       string
		prior      models.Understanding
		wantType   models.RecordType
		wantAmount string
	}{
		{
			name:       "expense with currency marker",
			text:       "记账：买了衣服 120元",
			wantType:   models.TypeExpense,
			wantAmount: "120",
		},
		{
			name:     "expense without amount",
			text:     "记账：买了衣服",
			wantType: models.TypeExpense,
		},
		{
			name:     "bare number is not an amount outside a session",
			text:     "买了 3 本书",
			wantType: models.TypeExpense,
		},
		{
			name:       "bare number fills amount during clarification",
			text:       "120",
			prior:      models.Understanding{models.FieldType: "expense"},
			wantType:   models.TypeExpense,
			wantAmount: "120",
		},
		{
			name:     "reminder keyword",
			text:     "提醒我明天交电费",
			wantType: models.TypeReminder,
		},
		{
			name:     "plain text falls back to info",
			text:     "wifi password is hunter2",
			wantType: models.TypeInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := a.Understand(context.Background(), tt.text, tt.prior)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ex.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ex.Type, tt.wantType)
			}
			if got := ex.Fields[models.FieldAmount]; got != tt.wantAmount {
				t.Errorf("amount = %q, want %q", got, tt.wantAmount)
			}
		})
	}
}

func TestKeywordAdapterKeepsPriorFields(t *testing.T) {
	a := NewKeywordAdapter()
	prior := models.Understanding{
		models.FieldType:   "expense",
		models.FieldAmount: "88",
	}
	ex, err := a.Understand(context.Background(), "大女儿", prior)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Fields[models.FieldAmount] != "88" {
		t.Errorf("prior amount lost: %v", ex.Fields)
	}
	if prior[models.FieldSource] != "" {
		t.Error("prior mapping mutated by adapter")
	}
}
