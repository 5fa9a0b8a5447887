package audit

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status represents the lifecycle of an audit entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusError     Status = "error"
	StatusCompleted Status = "completed"
)

// ActionType identifies what produced the entry.
type ActionType string

const (
	ActionChat       ActionType = "chat"
	ActionCalendar   ActionType = "calendar"
	ActionDelegation ActionType = "delegation"
	ActionApproval   ActionType = "approval"
)

// MaxOutputRunes bounds the Output column; FullResponse keeps the rest.
const MaxOutputRunes = 500

var (
	ErrInvalidTransition = errors.New("invalid audit status transition")
	ErrAlreadyResolved   = errors.New("audit entry already resolved")
)

// Entry is an audit log record. Everything except Status and ApprovedBy is
// immutable once written.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	AgentID       uuid.UUID  `json:"agentId"`
	UserID        int64      `json:"userId"`
	ActionType    ActionType `json:"actionType"`
	Command       string     `json:"command"`
	Output        string     `json:"output"`
	FullResponse  string     `json:"fullResponse"`
	SandboxHandle string     `json:"sandboxHandle,omitempty"`
	Status        Status     `json:"status"`
	ApprovedBy    *string    `json:"approvedBy,omitempty"`
	Signature     []byte     `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// NewEntry builds an entry, truncating Output and keeping the full text.
func NewEntry(agentID uuid.UUID, userID int64, actionType ActionType, command, response string, status Status) *Entry {
	return &Entry{
		ID:           uuid.New(),
		AgentID:      agentID,
		UserID:       userID,
		ActionType:   actionType,
		Command:      command,
		Output:       Truncate(response, MaxOutputRunes),
		FullResponse: response,
		Status:       status,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// IsTerminal reports whether the entry can no longer change.
func (e *Entry) IsTerminal() bool {
	return e.Status != StatusPending
}

// Resolve performs the single pending → terminal transition.
func (e *Entry) Resolve(status Status, by string) error {
	if e.IsTerminal() {
		return ErrAlreadyResolved
	}
	if status == StatusPending {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	e.Status = status
	e.ApprovedBy = &by
	e.ResolvedAt = &now
	return nil
}
