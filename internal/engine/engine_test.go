package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/aggregate"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/budget"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/clarify"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/reminder"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/schema"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/understand"
)

type scriptedAdapter struct {
	script map[string]*understand.Extraction
	err    error
}

func (a *scriptedAdapter) Understand(_ context.Context, text string, _ models.Understanding) (*understand.Extraction, error) {
	if a.err != nil {
		return nil, a.err
	}
	if ex, ok := a.script[text]; ok {
		copied := *ex
		copied.Fields = ex.Fields.Clone()
		return &copied, nil
	}
	return &understand.Extraction{Type: models.TypeInfo, Fields: models.Understanding{}}, nil
}

func newTestEngine(adapter understand.Adapter, cfg Config) (*Engine, *storage.MemoryStorage) {
	logger := zap.NewNop()
	store := storage.NewMemoryStorage()
	sessions := clarify.NewStore(10 * time.Minute)
	machine := clarify.NewMachine(schema.NewRegistry(), adapter, sessions,
		NewHouseholdCandidates(store, cfg.HouseholdSlug), logger)
	agg := aggregate.NewEngine(store, logger)
	monitor := budget.NewMonitor(0.8)
	scheduler := reminder.NewScheduler(store, logger)
	return New(cfg, machine, store, agg, monitor, scheduler, logger), store
}

func expense(amount, person, category string) *understand.Extraction {
	return &understand.Extraction{
		Type: models.TypeExpense,
		Fields: models.Understanding{
			models.FieldAmount:   amount,
			models.FieldPerson:   person,
			models.FieldCategory: category,
		},
	}
}

func seedExpense(t *testing.T, store *storage.MemoryStorage, owner, amount, category string) {
	t.Helper()
	err := store.PersistMemory(context.Background(), &models.Memory{
		ID:       uuid.New().String(),
		OwnerID:  owner,
		ThreadID: "t1",
		Understanding: models.Understanding{
			models.FieldType:     "expense",
			models.FieldAmount:   amount,
			models.FieldCategory: category,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExpenseWriteTriggersBudgetCheck(t *testing.T) {
	adapter := &scriptedAdapter{script: map[string]*understand.Extraction{
		"买菜花了100元":  expense("100", "妈妈", "food"),
		"又买了1000元的菜": expense("1000", "妈妈", "food"),
	}}
	e, store := newTestEngine(adapter, Config{MonthlyBudget: 5000})
	ctx := context.Background()

	seedExpense(t, store, "tg:1", "4000", "food")

	// 4000 + 100 = 4100 against 5000: 82% crosses the 80% warning line.
	resp, err := e.HandleMessage(ctx, "1", "t1", false, "买菜花了100元")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "已记账") {
		t.Errorf("missing confirmation: %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "⚠️") {
		t.Errorf("82%% of budget should warn: %q", resp.Text)
	}

	// 4100 + 1000 = 5100: exceeded.
	resp, err = e.HandleMessage(ctx, "1", "t1", false, "又买了1000元的菜")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "🚨") {
		t.Errorf("5100 of 5000 should read exceeded: %q", resp.Text)
	}
}

func TestIncompleteMessageAsksOneQuestionAndPersistsNothing(t *testing.T) {
	adapter := &scriptedAdapter{script: map[string]*understand.Extraction{
		"记账：买了衣服": {
			Type:   models.TypeExpense,
			Fields: models.Understanding{models.FieldCategory: "clothing"},
		},
	}}
	e, store := newTestEngine(adapter, Config{})
	ctx := context.Background()

	resp, err := e.HandleMessage(ctx, "1", "t1", false, "记账：买了衣服")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text == "" || strings.Contains(resp.Text, "已记账") {
		t.Errorf("expected a clarifying question, got %q", resp.Text)
	}

	memories, err := store.QueryMemories(ctx, []string{"tg:1"}, models.MemoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(memories) != 0 {
		t.Errorf("partial session must not write durable records, found %d", len(memories))
	}
}

func TestAdapterFailureDegradesWithoutPersisting(t *testing.T) {
	adapter := &scriptedAdapter{err: models.ErrAdapterUnavailable}
	e, store := newTestEngine(adapter, Config{})
	ctx := context.Background()

	resp, err := e.HandleMessage(ctx, "1", "t1", false, "记账 120元")
	if err != nil {
		t.Fatalf("adapter failure must be recovered, got %v", err)
	}
	if resp.Text == "" {
		t.Error("expected a degraded user-facing reply")
	}

	memories, err := store.QueryMemories(ctx, []string{"tg:1"}, models.MemoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(memories) != 0 {
		t.Error("nothing may be persisted when understanding fails")
	}
}

func TestMalformedIdentityRejectedSynchronously(t *testing.T) {
	adapter := &scriptedAdapter{}
	e, _ := newTestEngine(adapter, Config{})

	_, err := e.HandleMessage(context.Background(), "bad identity!", "t1", false, "hello")
	if !errors.Is(err, models.ErrInvalidIdentity) {
		t.Fatalf("err = %v, want ErrInvalidIdentity", err)
	}
}

func TestReminderRecordSchedulesDelivery(t *testing.T) {
	adapter := &scriptedAdapter{script: map[string]*understand.Extraction{
		"提前一天提醒我9月10号打疫苗": {
			Type: models.TypeReminder,
			Fields: models.Understanding{
				models.FieldSubject: "打疫苗",
				"remind_at":         "2026-09-10 09:00",
				"advance_days":      "1",
			},
		},
	}}
	e, _ := newTestEngine(adapter, Config{})
	ctx := context.Background()

	resp, err := e.HandleMessage(ctx, "1", "t1", false, "提前一天提醒我9月10号打疫苗")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "⏰") {
		t.Errorf("expected scheduling confirmation: %q", resp.Text)
	}

	pending, err := e.PendingReminders(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	want := time.Date(2026, 9, 9, 9, 0, 0, 0, time.Local)
	if !pending[0].RemindAt.Equal(want) {
		t.Errorf("remind_at = %v, want %v (one day before target)", pending[0].RemindAt, want)
	}
	if pending[0].MemoryID == nil {
		t.Error("reminder should back-reference its memory")
	}
}

func TestCancelSession(t *testing.T) {
	adapter := &scriptedAdapter{script: map[string]*understand.Extraction{
		"记账：买了衣服": {
			Type:   models.TypeExpense,
			Fields: models.Understanding{models.FieldCategory: "clothing"},
		},
	}}
	e, _ := newTestEngine(adapter, Config{})

	if e.CancelSession("t1") {
		t.Error("no session yet, cancel should report false")
	}
	if _, err := e.HandleMessage(context.Background(), "1", "t1", false, "记账：买了衣服"); err != nil {
		t.Fatal(err)
	}
	if !e.CancelSession("t1") {
		t.Error("active session should cancel")
	}
}

func TestMonthSummaryGroupsByCategory(t *testing.T) {
	adapter := &scriptedAdapter{}
	e, store := newTestEngine(adapter, Config{HouseholdSlug: "fam"})
	ctx := context.Background()

	seed := HouseholdSeed{
		Slug: "fam",
		Members: []MemberSeed{
			{Key: "dad", Name: "爸爸", Accounts: []string{"100"}},
			{Key: "mom", Name: "妈妈", Accounts: []string{"200"}},
		},
	}
	if err := Bootstrap(ctx, store, seed, zap.NewNop()); err != nil {
		t.Fatal(err)
	}

	seedExpense(t, store, "tg:100", "150", "food")
	seedExpense(t, store, "tg:100", "300", "food")
	seedExpense(t, store, "tg:200", "80", "transport")

	summary, err := e.MonthSummary(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Total.Equal(decimal.NewFromInt(530)) {
		t.Errorf("total = %s, want 530 across the family scope", summary.Total)
	}
	if summary.Count != 3 {
		t.Errorf("count = %d, want 3", summary.Count)
	}
	if len(summary.ByCategory) != 2 {
		t.Fatalf("categories = %d, want 2", len(summary.ByCategory))
	}
	if summary.ByCategory[0].Category != "food" || !summary.ByCategory[0].Total.Equal(decimal.NewFromInt(450)) {
		t.Errorf("top category = %+v, want food 450", summary.ByCategory[0])
	}
}

func TestBudgetReport(t *testing.T) {
	adapter := &scriptedAdapter{}
	e, store := newTestEngine(adapter, Config{
		MonthlyBudget:   5000,
		CategoryBudgets: map[string]float64{"food": 1000},
	})
	ctx := context.Background()

	seedExpense(t, store, "tg:1", "820", "food")

	lines, err := e.BudgetReport(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want total + food", len(lines))
	}
	if lines[0].Label != "总预算" || lines[0].Status != budget.StatusOK {
		t.Errorf("total line = %+v", lines[0])
	}
	if lines[1].Label != "food" || lines[1].Status != budget.StatusWarning {
		t.Errorf("food at 82%% should warn: %+v", lines[1])
	}
}
