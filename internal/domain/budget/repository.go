package budget

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for budgets.
type Repository interface {
	Create(ctx context.Context, b *Budget) error
	Get(ctx context.Context, agentID uuid.UUID) (*Budget, error)
	// ResetIfStale zeroes spend and moves LastResetDate to today only when
	// the stored LastResetDate still equals observed. Returns rows affected.
	ResetIfStale(ctx context.Context, agentID uuid.UUID, observed, today string) (int64, error)
	// AddSpend atomically increments CurrentSpend.
	AddSpend(ctx context.Context, agentID uuid.UUID, amount float64) error
}
