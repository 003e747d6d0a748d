// Package ledger provides atomic per-organization token and cost accounting.
// The budget pre-check callers perform against it is advisory and
// race-tolerant: under high concurrency a small number of calls may
// transiently exceed the cap, which self-corrects at period reset.
package ledger

import (
	"context"
	"time"

	"github.com/semreview/pkg/models"
)

// Budgets holds the configured spend ceilings.
type Budgets struct {
	DailyUSD   float64
	MonthlyUSD float64
}

// Remaining reports how much budget an organization has left.
type Remaining struct {
	DailyUSD   float64
	MonthlyUSD float64
}

// Exhausted reports whether any period ceiling has been reached.
func (r Remaining) Exhausted() bool {
	return r.DailyUSD <= 0 || r.MonthlyUSD <= 0
}

// Ledger is the shared spend accounting interface. Implementations must be
// safe and atomic under concurrent access.
type Ledger interface {
	// Increment records tokens and cost for one successful paid call.
	Increment(ctx context.Context, orgID int64, tokens int64, costUSD float64) error

	// BudgetRemaining is a read-only view of the remaining spend.
	BudgetRemaining(ctx context.Context, orgID int64) (Remaining, error)

	// Usage returns the current counters for an organization.
	Usage(ctx context.Context, orgID int64) (*models.UsageBudget, error)
}

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
