package agent

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents agent activity status.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
)

var ErrInvalidTransition = errors.New("invalid agent status transition")

// Agent is a configured persona that runs inside sandboxes.
type Agent struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Role            string          `json:"role"`
	Image           string          `json:"image"`
	RequireApproval bool            `json:"requireApproval"`
	Provider        json.RawMessage `json:"provider,omitempty"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// New returns an idle agent.
func New(name, role, image string, requireApproval bool) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:              uuid.New(),
		Name:            name,
		Role:            role,
		Image:           image,
		RequireApproval: requireApproval,
		Status:          StatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransitionTo validates agent status transition.
func (a *Agent) CanTransitionTo(target Status) bool {
	switch a.Status {
	case StatusIdle:
		return target == StatusActive
	case StatusActive:
		return target == StatusIdle || target == StatusActive
	}
	return false
}
