package calendar

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents calendar event status.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid calendar event status transition")
	ErrInvalidWindow     = errors.New("event end time is before start time")
	ErrMissingPrompt     = errors.New("event prompt is required")
)

// Event is one scheduled sandbox run for an (agent, user) pair.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	AgentID     uuid.UUID  `json:"agentId"`
	UserID      int64      `json:"userId"`
	Title       string     `json:"title"`
	Prompt      string     `json:"prompt"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Color       string     `json:"color,omitempty"`
	Status      Status     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewEvent validates and returns a scheduled event.
func NewEvent(agentID uuid.UUID, userID int64, title, prompt string, start time.Time, end *time.Time) (*Event, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrMissingPrompt
	}
	if end != nil && end.Before(start) {
		return nil, ErrInvalidWindow
	}
	if title == "" {
		r := []rune(prompt)
		if len(r) > 40 {
			r = r[:40]
		}
		title = string(r)
	}
	return &Event{
		ID:        uuid.New(),
		AgentID:   agentID,
		UserID:    userID,
		Title:     title,
		Prompt:    prompt,
		StartTime: start.UTC(),
		EndTime:   utcPtr(end),
		Status:    StatusScheduled,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// IsDue reports whether the event is eligible for claiming at now.
func (e *Event) IsDue(now time.Time) bool {
	if e.Status != StatusScheduled {
		return false
	}
	if e.StartTime.After(now) {
		return false
	}
	return e.EndTime == nil || !e.EndTime.Before(now)
}

// CanTransitionTo validates event status transition.
func (e *Event) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusScheduled: {StatusRunning, StatusCancelled},
		StatusRunning:   {StatusCompleted, StatusFailed},
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	}
	for _, s := range transitions[e.Status] {
		if s == target {
			return true
		}
	}
	return false
}
