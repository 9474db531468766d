package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Status classifies spend against a budget.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Report is the outcome of one budget evaluation.
type Report struct {
	Status Status
	Spent  decimal.Decimal
	Budget decimal.Decimal
	Ratio  decimal.Decimal
}

// Monitor classifies aggregate spend against thresholds. Evaluate is a pure
// function of its inputs; the monitor keeps no running totals. The only
// state it holds is warning suppression, versioned per evaluation period so
// one period's warning never mutes the next.
type Monitor struct {
	warnRatio decimal.Decimal

	mu       sync.Mutex
	notified map[string]Status
}

// NewMonitor builds a monitor with the given warning ratio (0.8 means warn
// at 80% of budget).
func NewMonitor(warnRatio float64) *Monitor {
	return &Monitor{
		warnRatio: decimal.NewFromFloat(warnRatio),
		notified:  make(map[string]Status),
	}
}

// Evaluate classifies spent against budget. A non-positive budget means
// "no budget configured" and always reads ok.
func (m *Monitor) Evaluate(spent, budget decimal.Decimal) Report {
	r := Report{Spent: spent, Budget: budget}
	if budget.Sign() <= 0 {
		r.Status = StatusOK
		return r
	}

	r.Ratio = spent.Div(budget)
	switch {
	case r.Ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		r.Status = StatusExceeded
	case r.Ratio.GreaterThanOrEqual(m.warnRatio):
		r.Status = StatusWarning
	default:
		r.Status = StatusOK
	}
	return r
}

// ShouldNotify reports whether a warning/exceeded status for the given
// scope, category, and period has not been announced yet, and records it.
// OK statuses clear the record so a budget that recovers can warn again.
func (m *Monitor) ShouldNotify(household, category string, period time.Time, status Status) bool {
	key := fmt.Sprintf("%s|%s|%s", household, category, period.Format("2006-01"))

	m.mu.Lock()
	defer m.mu.Unlock()

	if status == StatusOK {
		delete(m.notified, key)
		return false
	}
	if prev, ok := m.notified[key]; ok && prev == status {
		return false
	}
	m.notified[key] = status
	return true
}
