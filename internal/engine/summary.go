package engine

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/aggregate"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/budget"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// CategoryTotal is one category's spend within a summary period.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// MonthSummary is the family's expense overview for one calendar month.
type MonthSummary struct {
	Year       int
	Month      time.Month
	Total      decimal.Decimal
	Count      int64
	ByCategory []CategoryTotal
}

// MonthSummary aggregates the current month's expenses across the family
// scope, grouped by category.
func (e *Engine) MonthSummary(ctx context.Context, rawOwner string) (*MonthSummary, error) {
	owner, err := aggregate.NormalizeIdentity(rawOwner)
	if err != nil {
		return nil, err
	}
	scope, err := e.familyScope(ctx, owner)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	period := monthStart(now)
	filter := models.MemoryFilter{
		Type:  models.TypeExpense,
		Since: period,
		Until: period.AddDate(0, 1, 0),
	}

	memories, err := e.store.QueryMemories(ctx, scope, filter)
	if err != nil {
		return nil, err
	}

	summary := &MonthSummary{Year: now.Year(), Month: now.Month(), Total: decimal.Zero}
	groups := lo.GroupBy(memories, func(m *models.Memory) string {
		return m.Projection.Category
	})
	for category, items := range groups {
		total := decimal.Zero
		for _, m := range items {
			if m.Projection.Value != nil {
				total = total.Add(*m.Projection.Value)
			}
		}
		summary.Total = summary.Total.Add(total)
		summary.Count += int64(len(items))
		summary.ByCategory = append(summary.ByCategory, CategoryTotal{Category: category, Total: total})
	}
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		return summary.ByCategory[i].Total.GreaterThan(summary.ByCategory[j].Total)
	})
	return summary, nil
}

// BudgetLine is one configured budget's current standing.
type BudgetLine struct {
	Label  string
	Spent  decimal.Decimal
	Limit  decimal.Decimal
	Status budget.Status
}

// BudgetReport evaluates every configured budget against the current
// month's family-scope spend.
func (e *Engine) BudgetReport(ctx context.Context, rawOwner string) ([]BudgetLine, error) {
	owner, err := aggregate.NormalizeIdentity(rawOwner)
	if err != nil {
		return nil, err
	}
	scope, err := e.familyScope(ctx, owner)
	if err != nil {
		return nil, err
	}

	period := monthStart(time.Now())
	until := period.AddDate(0, 1, 0)

	var lines []BudgetLine
	appendLine := func(label, category string, limit float64) error {
		filter := models.MemoryFilter{
			Type:     models.TypeExpense,
			Category: category,
			Since:    period,
			Until:    until,
		}
		res, err := e.agg.Aggregate(ctx, scope, models.OpSum, models.FieldAmount, filter)
		if err != nil {
			return err
		}
		budgetLimit := decimal.NewFromFloat(limit)
		report := e.monitor.Evaluate(res.Value, budgetLimit)
		lines = append(lines, BudgetLine{Label: label, Spent: res.Value, Limit: budgetLimit, Status: report.Status})
		return nil
	}

	if e.cfg.MonthlyBudget > 0 {
		if err := appendLine("总预算", "", e.cfg.MonthlyBudget); err != nil {
			return nil, err
		}
	}
	categories := lo.Keys(e.cfg.CategoryBudgets)
	sort.Strings(categories)
	for _, category := range categories {
		if err := appendLine(category, category, e.cfg.CategoryBudgets[category]); err != nil {
			return nil, err
		}
	}
	return lines, nil
}
