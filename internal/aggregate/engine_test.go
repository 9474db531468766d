package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
)

func seedExpense(t *testing.T, store storage.Storage, owner, amount string) {
	t.Helper()
	err := store.PersistMemory(context.Background(), &models.Memory{
		ID:       uuid.New().String(),
		OwnerID:  owner,
		ThreadID: "t1",
		Understanding: models.Understanding{
			models.FieldType:   "expense",
			models.FieldAmount: amount,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFamilyScopeSumEqualsPartitionedSums(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	// Identity A records 150 and 300, identity B records 80.
	seedExpense(t, store, "tg:100", "150")
	seedExpense(t, store, "tg:100", "300")
	seedExpense(t, store, "tg:200", "80")

	filter := models.MemoryFilter{Type: models.TypeExpense}

	family, err := engine.Aggregate(ctx, []string{"100", "200"}, models.OpSum, models.FieldAmount, filter)
	if err != nil {
		t.Fatal(err)
	}
	if !family.Value.Equal(decimal.NewFromInt(530)) {
		t.Errorf("family sum = %s, want 530", family.Value)
	}
	if family.Op != models.OpSum {
		t.Errorf("op echo = %q, want sum", family.Op)
	}

	a, err := engine.Aggregate(ctx, []string{"100"}, models.OpSum, models.FieldAmount, filter)
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.Aggregate(ctx, []string{"200"}, models.OpSum, models.FieldAmount, filter)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Value.Add(b.Value).Equal(family.Value) {
		t.Errorf("partitioned sums %s + %s != family sum %s", a.Value, b.Value, family.Value)
	}
}

func TestAggregateEmptyHistoryIsZero(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, zap.NewNop())

	// A brand-new family member with no records contributes zero rather
	// than causing a lookup failure.
	res, err := engine.Aggregate(context.Background(), []string{"tg:999"}, models.OpSum, models.FieldAmount, models.MemoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Value.IsZero() {
		t.Errorf("sum = %s, want 0", res.Value)
	}
	if res.Rows != 0 {
		t.Errorf("rows = %d, want 0", res.Rows)
	}
}

func TestAggregateRejectsMalformedIdentity(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, zap.NewNop())

	_, err := engine.Aggregate(context.Background(), []string{"tg: not valid "}, models.OpSum, models.FieldAmount, models.MemoryFilter{})
	if !errors.Is(err, models.ErrInvalidIdentity) {
		t.Fatalf("err = %v, want ErrInvalidIdentity", err)
	}
}

func TestAggregateCountAndAvg(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	seedExpense(t, store, "tg:100", "10")
	seedExpense(t, store, "tg:100", "20")

	count, err := engine.Aggregate(ctx, []string{"100"}, models.OpCount, models.FieldAmount, models.MemoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if !count.Value.Equal(decimal.NewFromInt(2)) {
		t.Errorf("count = %s, want 2", count.Value)
	}

	avg, err := engine.Aggregate(ctx, []string{"100"}, models.OpAvg, models.FieldAmount, models.MemoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if !avg.Value.Equal(decimal.NewFromInt(15)) {
		t.Errorf("avg = %s, want 15", avg.Value)
	}
}

func TestAggregateRejectsNonNumericField(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, zap.NewNop())

	_, err := engine.Aggregate(context.Background(), []string{"100"}, models.OpSum, "category", models.MemoryFilter{})
	if !errors.Is(err, models.ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}
