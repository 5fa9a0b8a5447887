package calendar

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Workspace identifies the per-(agent, user) store a calendar lives in.
type Workspace struct {
	AgentID uuid.UUID
	UserID  int64
}

// Repository defines persistence for one workspace's calendar.
type Repository interface {
	Create(ctx context.Context, ws Workspace, e *Event) error
	Get(ctx context.Context, ws Workspace, id uuid.UUID) (*Event, error)
	ListUpcoming(ctx context.Context, ws Workspace, from time.Time, limit int) ([]*Event, error)
	// Update edits title, prompt and window of a still-scheduled event.
	Update(ctx context.Context, ws Workspace, e *Event) (bool, error)
	Cancel(ctx context.Context, ws Workspace, id uuid.UUID) (bool, error)
	// ClaimDue moves every due scheduled event to running and returns the
	// ones this caller won.
	ClaimDue(ctx context.Context, ws Workspace, now time.Time) ([]*Event, error)
	Finish(ctx context.Context, ws Workspace, id uuid.UUID, status Status, errText *string, at time.Time) error
	Workspaces(ctx context.Context) ([]Workspace, error)
}
