package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/semreview/pkg/models"
)

// PostgresLedger persists usage counters in a single row per organization.
// The whole increment, including day/month rollover, is one UPDATE so writers
// never observe partial state.
type PostgresLedger struct {
	db      *sql.DB
	budgets Budgets
}

func NewPostgresLedger(db *sql.DB, budgets Budgets) *PostgresLedger {
	return &PostgresLedger{db: db, budgets: budgets}
}

func (l *PostgresLedger) Increment(ctx context.Context, orgID int64, tokens int64, costUSD float64) error {
	now := time.Now()
	_, err := l.db.ExecContext(ctx, `
        INSERT INTO usage_budgets (org_id, day, month, daily_tokens, monthly_tokens, daily_spent_usd, monthly_spent_usd, updated_at)
        VALUES ($1, $2, $3, $4, $4, $5, $5, now())
        ON CONFLICT (org_id) DO UPDATE SET
            daily_tokens      = CASE WHEN usage_budgets.day   = EXCLUDED.day   THEN usage_budgets.daily_tokens      + EXCLUDED.daily_tokens      ELSE EXCLUDED.daily_tokens      END,
            daily_spent_usd   = CASE WHEN usage_budgets.day   = EXCLUDED.day   THEN usage_budgets.daily_spent_usd   + EXCLUDED.daily_spent_usd   ELSE EXCLUDED.daily_spent_usd   END,
            monthly_tokens    = CASE WHEN usage_budgets.month = EXCLUDED.month THEN usage_budgets.monthly_tokens    + EXCLUDED.monthly_tokens    ELSE EXCLUDED.monthly_tokens    END,
            monthly_spent_usd = CASE WHEN usage_budgets.month = EXCLUDED.month THEN usage_budgets.monthly_spent_usd + EXCLUDED.monthly_spent_usd ELSE EXCLUDED.monthly_spent_usd END,
            day = EXCLUDED.day, month = EXCLUDED.month, updated_at = now()
    `, orgID, dayKey(now), monthKey(now), tokens, costUSD)
	if err != nil {
		return fmt.Errorf("failed to increment usage ledger: %w", err)
	}
	return nil
}

func (l *PostgresLedger) BudgetRemaining(ctx context.Context, orgID int64) (Remaining, error) {
	now := time.Now()
	var day, month string
	var dailySpent, monthlySpent float64
	err := l.db.QueryRowContext(ctx, `
        SELECT day, month, daily_spent_usd, monthly_spent_usd
        FROM usage_budgets WHERE org_id = $1
    `, orgID).Scan(&day, &month, &dailySpent, &monthlySpent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Remaining{DailyUSD: l.budgets.DailyUSD, MonthlyUSD: l.budgets.MonthlyUSD}, nil
		}
		return Remaining{}, fmt.Errorf("failed to read usage ledger: %w", err)
	}

	// Stale period counters no longer count against the budget
	if day != dayKey(now) {
		dailySpent = 0
	}
	if month != monthKey(now) {
		monthlySpent = 0
	}

	return Remaining{
		DailyUSD:   l.budgets.DailyUSD - dailySpent,
		MonthlyUSD: l.budgets.MonthlyUSD - monthlySpent,
	}, nil
}

func (l *PostgresLedger) Usage(ctx context.Context, orgID int64) (*models.UsageBudget, error) {
	var b models.UsageBudget
	err := l.db.QueryRowContext(ctx, `
        SELECT org_id, day, month, daily_tokens, monthly_tokens, daily_spent_usd, monthly_spent_usd, updated_at
        FROM usage_budgets WHERE org_id = $1
    `, orgID).Scan(&b.OrgID, &b.Day, &b.Month, &b.DailyTokens, &b.MonthlyTokens, &b.DailySpentUSD, &b.MonthlySpentUSD, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.UsageBudget{OrgID: orgID}, nil
		}
		return nil, fmt.Errorf("failed to read usage ledger: %w", err)
	}
	return &b, nil
}
