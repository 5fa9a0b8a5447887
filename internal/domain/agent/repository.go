package agent

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for agents.
type Repository interface {
	Upsert(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetByName(ctx context.Context, name string) (*Agent, error)
	FindByRole(ctx context.Context, role string) (*Agent, error)
	List(ctx context.Context) ([]*Agent, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}
