package audit

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Filter controls audit listing.
type Filter struct {
	AgentID    *uuid.UUID
	Status     *Status
	ActionType *ActionType
}

// Repository defines persistence for audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// Resolve moves a pending entry to status. It returns false when the
	// entry is missing or no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, status Status, approvedBy string) (bool, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error)
}
