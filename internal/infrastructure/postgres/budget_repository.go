package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermitshell/hermitshell/internal/domain/budget"
)

// BudgetRepository implements budget.Repository.
type BudgetRepository struct {
	pool *pgxpool.Pool
}

func NewBudgetRepository(pool *pgxpool.Pool) *BudgetRepository {
	return &BudgetRepository{pool: pool}
}

// Create inserts b unless the agent already has a budget.
func (r *BudgetRepository) Create(ctx context.Context, b *budget.Budget) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO budgets (agent_id, daily_limit, current_spend, last_reset_date)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (agent_id) DO NOTHING
	`, b.AgentID, b.DailyLimit, b.CurrentSpend, b.LastResetDate)
	return err
}

func (r *BudgetRepository) Get(ctx context.Context, agentID uuid.UUID) (*budget.Budget, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT agent_id, daily_limit, current_spend, last_reset_date
		FROM budgets WHERE agent_id=$1
	`, agentID)
	var b budget.Budget
	if err := row.Scan(&b.AgentID, &b.DailyLimit, &b.CurrentSpend, &b.LastResetDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BudgetRepository) ResetIfStale(ctx context.Context, agentID uuid.UUID, observed, today string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE budgets SET current_spend=0, last_reset_date=$3
		WHERE agent_id=$1 AND last_reset_date=$2
	`, agentID, observed, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *BudgetRepository) AddSpend(ctx context.Context, agentID uuid.UUID, amount float64) error {
	_, err := r.pool.Exec(ctx, `UPDATE budgets SET current_spend = current_spend + $2 WHERE agent_id=$1`, agentID, amount)
	return err
}
