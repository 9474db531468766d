package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/aggregate"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/budget"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/clarify"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/reminder"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
)

// Config carries the policy parameters of the engine.
type Config struct {
	HouseholdSlug   string
	MonthlyBudget   float64
	CategoryBudgets map[string]float64
}

// Response is what the gateway sends back to the thread.
type Response struct {
	Text string
}

// Engine wires the clarification machine, store, aggregation, budget
// monitor, and reminder scheduler into the message-handling pipeline.
type Engine struct {
	cfg       Config
	machine   *clarify.Machine
	store     storage.Storage
	agg       *aggregate.Engine
	monitor   *budget.Monitor
	scheduler *reminder.Scheduler
	logger    *zap.Logger
}

func New(cfg Config, machine *clarify.Machine, store storage.Storage, agg *aggregate.Engine, monitor *budget.Monitor, scheduler *reminder.Scheduler, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		machine:   machine,
		store:     store,
		agg:       agg,
		monitor:   monitor,
		scheduler: scheduler,
		logger:    logger,
	}
}

// HandleMessage runs one inbound message through understanding and
// clarification, persisting a record when the session completes. Recoverable
// failures turn into user-facing text; only store-layer failures propagate.
func (e *Engine) HandleMessage(ctx context.Context, rawOwner, threadID string, shared bool, text string) (*Response, error) {
	owner, err := aggregate.NormalizeIdentity(rawOwner)
	if err != nil {
		return nil, err
	}

	out, err := e.machine.Advance(ctx, threadID, owner, text)
	if err != nil {
		if errors.Is(err, models.ErrAdapterUnavailable) {
			e.logger.Warn("Degrading to retry response", zap.String("thread_id", threadID))
			return &Response{Text: "我刚才没有理解成功，请稍后再说一次 🙏"}, nil
		}
		return nil, err
	}

	switch out.Status {
	case clarify.StatusAwaitingField:
		return &Response{Text: out.Question}, nil
	case clarify.StatusDiscarded:
		return &Response{Text: "好的，这条内容不记了。"}, nil
	case clarify.StatusCompleted:
		return e.persistCompleted(ctx, owner, threadID, shared, text, out)
	default:
		return nil, fmt.Errorf("unexpected clarification status %q", out.Status)
	}
}

func (e *Engine) persistCompleted(ctx context.Context, owner, threadID string, shared bool, text string, out *clarify.Outcome) (*Response, error) {
	if err := e.store.EnsureOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("registering owner: %w", err)
	}

	mem := &models.Memory{
		ID:            uuid.New().String(),
		OwnerID:       owner,
		ThreadID:      threadID,
		Shared:        shared,
		Content:       text,
		Understanding: out.Fields,
		OccurredAt:    time.Now(),
	}
	if err := e.store.PersistMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("persisting memory: %w", err)
	}

	lines := []string{confirmation(out)}

	switch out.Type {
	case models.TypeExpense:
		lines = append(lines, e.checkBudgets(ctx, owner, mem)...)
	case models.TypeReminder:
		if line := e.scheduleFromRecord(ctx, owner, threadID, mem); line != "" {
			lines = append(lines, line)
		}
	}

	return &Response{Text: strings.Join(lines, "\n")}, nil
}

func confirmation(out *clarify.Outcome) string {
	switch out.Type {
	case models.TypeExpense:
		return fmt.Sprintf("已记账 ✅ %s %s元（%s）",
			out.Fields[models.FieldPerson],
			out.Fields[models.FieldAmount],
			out.Fields[models.FieldCategory])
	case models.TypeHealth:
		return fmt.Sprintf("已记录 ✅ %s 的 %s：%s",
			out.Fields[models.FieldPerson],
			out.Fields[models.FieldMetric],
			out.Fields[models.FieldValue])
	case models.TypeReminder:
		return fmt.Sprintf("已记录提醒 ✅ %s", out.Fields[models.FieldSubject])
	default:
		return "已记住 ✅"
	}
}

// checkBudgets re-evaluates the affected category and the overall total on
// every expense write. The monitor is a pure function of current aggregate
// state; only notification suppression is stateful, versioned per period.
func (e *Engine) checkBudgets(ctx context.Context, owner string, mem *models.Memory) []string {
	scope, err := e.familyScope(ctx, owner)
	if err != nil {
		e.logger.Error("Failed to resolve family scope", zap.Error(err))
		return nil
	}

	now := time.Now()
	period := monthStart(now)
	var lines []string

	if cat := mem.Projection.Category; cat != "" {
		if limit, ok := e.cfg.CategoryBudgets[cat]; ok {
			if line := e.evaluateBudget(ctx, scope, cat, limit, period, now); line != "" {
				lines = append(lines, line)
			}
		}
	}
	if e.cfg.MonthlyBudget > 0 {
		if line := e.evaluateBudget(ctx, scope, "", e.cfg.MonthlyBudget, period, now); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (e *Engine) evaluateBudget(ctx context.Context, scope []string, category string, limit float64, period, now time.Time) string {
	filter := models.MemoryFilter{
		Type:     models.TypeExpense,
		Category: category,
		Since:    period,
		Until:    period.AddDate(0, 1, 0),
	}
	res, err := e.agg.Aggregate(ctx, scope, models.OpSum, models.FieldAmount, filter)
	if err != nil {
		e.logger.Error("Budget aggregation failed",
			zap.Error(err),
			zap.String("category", category))
		return ""
	}

	report := e.monitor.Evaluate(res.Value, decimal.NewFromFloat(limit))
	if !e.monitor.ShouldNotify(e.cfg.HouseholdSlug, budgetKey(category), period, report.Status) {
		return ""
	}

	label := "本月总支出"
	if category != "" {
		label = fmt.Sprintf("本月「%s」支出", category)
	}
	percent := report.Ratio.Mul(decimal.NewFromInt(100)).Round(0)

	switch report.Status {
	case budget.StatusWarning:
		return fmt.Sprintf("⚠️ %s %s元，已达预算的 %s%%", label, report.Spent, percent)
	case budget.StatusExceeded:
		return fmt.Sprintf("🚨 %s %s元，已超出预算（%s元）", label, report.Spent, report.Budget)
	default:
		return ""
	}
}

func budgetKey(category string) string {
	if category == "" {
		return "__total__"
	}
	return category
}

// scheduleFromRecord turns a completed reminder record into a scheduled
// reminder. remind_at accepts a few common layouts; advance_days applies
// "remind N days before" semantics.
func (e *Engine) scheduleFromRecord(ctx context.Context, owner, threadID string, mem *models.Memory) string {
	raw := mem.Understanding["remind_at"]
	target, ok := parseWhen(raw)
	if !ok {
		e.logger.Info("Reminder record without a parseable time",
			zap.String("memory_id", mem.ID),
			zap.String("remind_at", raw))
		return "（没有识别到提醒时间，只保存了内容）"
	}

	var offset *time.Duration
	if rawDays := mem.Understanding["advance_days"]; rawDays != "" {
		if days, err := strconv.Atoi(rawDays); err == nil && days > 0 {
			d := time.Duration(days) * 24 * time.Hour
			offset = &d
		}
	}

	r, err := e.scheduler.Create(ctx, owner, threadID, mem.Understanding[models.FieldSubject], &mem.ID, target, offset)
	if err != nil {
		e.logger.Error("Failed to schedule reminder", zap.Error(err))
		return "（提醒保存失败，请再试一次）"
	}
	return fmt.Sprintf("⏰ 会在 %s 提醒你", r.RemindAt.Format("2006-01-02 15:04"))
}

var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseWhen(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// familyScope resolves the aggregation scope for a message: the household's
// linked accounts, or just the sender when no household is configured.
func (e *Engine) familyScope(ctx context.Context, owner string) ([]string, error) {
	if e.cfg.HouseholdSlug == "" {
		return []string{owner}, nil
	}
	scope, err := e.store.FamilyScope(ctx, e.cfg.HouseholdSlug)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return []string{owner}, nil
	}
	return scope, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// CancelSession drops the thread's clarification session, if one is active.
func (e *Engine) CancelSession(threadID string) bool {
	return e.machine.Cancel(threadID)
}

// PendingReminders lists the sender's undelivered reminders.
func (e *Engine) PendingReminders(ctx context.Context, rawOwner string) ([]*models.Reminder, error) {
	owner, err := aggregate.NormalizeIdentity(rawOwner)
	if err != nil {
		return nil, err
	}
	return e.scheduler.Pending(ctx, owner)
}
