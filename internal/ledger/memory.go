package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/semreview/pkg/models"
)

// MemoryLedger is an in-process Ledger for tests and single-node development.
type MemoryLedger struct {
	mu      sync.Mutex
	budgets Budgets
	orgs    map[int64]*models.UsageBudget
}

func NewMemoryLedger(budgets Budgets) *MemoryLedger {
	return &MemoryLedger{
		budgets: budgets,
		orgs:    make(map[int64]*models.UsageBudget),
	}
}

func (l *MemoryLedger) Increment(_ context.Context, orgID int64, tokens int64, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.orgs[orgID]
	if b == nil {
		b = &models.UsageBudget{OrgID: orgID}
		l.orgs[orgID] = b
	}

	if b.Day != dayKey(now) {
		b.Day = dayKey(now)
		b.DailyTokens = 0
		b.DailySpentUSD = 0
	}
	if b.Month != monthKey(now) {
		b.Month = monthKey(now)
		b.MonthlyTokens = 0
		b.MonthlySpentUSD = 0
	}

	b.DailyTokens += tokens
	b.MonthlyTokens += tokens
	b.DailySpentUSD += costUSD
	b.MonthlySpentUSD += costUSD
	b.UpdatedAt = now
	return nil
}

func (l *MemoryLedger) BudgetRemaining(_ context.Context, orgID int64) (Remaining, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := Remaining{DailyUSD: l.budgets.DailyUSD, MonthlyUSD: l.budgets.MonthlyUSD}
	b := l.orgs[orgID]
	if b == nil {
		return remaining, nil
	}

	now := time.Now()
	if b.Day == dayKey(now) {
		remaining.DailyUSD -= b.DailySpentUSD
	}
	if b.Month == monthKey(now) {
		remaining.MonthlyUSD -= b.MonthlySpentUSD
	}
	return remaining, nil
}

func (l *MemoryLedger) Usage(_ context.Context, orgID int64) (*models.UsageBudget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b := l.orgs[orgID]; b != nil {
		cp := *b
		return &cp, nil
	}
	return &models.UsageBudget{OrgID: orgID}, nil
}
