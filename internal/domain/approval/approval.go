package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents approval status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Decision is the operator's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ErrUnknown is returned when a resolution names no pending request.
var ErrUnknown = errors.New("unknown or already resolved approval")

// Sentinel paths polled by the in-sandbox agent.
const (
	ApproveLockPath = "/tmp/hermit_approval.lock"
	DenyLockPath    = "/tmp/hermit_deny.lock"
)

// Marker is printed by the sandbox when a command needs approval.
const Marker = "[HITL] APPROVAL_REQUIRED:"

// Pending is an approval request waiting for an operator.
type Pending struct {
	ID        string    `json:"id"`
	AgentID   uuid.UUID `json:"agentId"`
	UserID    int64     `json:"userId"`
	Handle    string    `json:"sandboxHandle"`
	Action    string    `json:"action"`
	AuditID   uuid.UUID `json:"auditId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewPending builds a request created at now that expires after ttl.
func NewPending(agentID uuid.UUID, userID int64, handle, action string, auditID uuid.UUID, now time.Time, ttl time.Duration) *Pending {
	return &Pending{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		UserID:    userID,
		Handle:    handle,
		Action:    action,
		AuditID:   auditID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Key returns the store key.
func (p *Pending) Key() string { return p.ID }

// Expired reports whether the request is past its deadline at now.
func (p *Pending) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// StatusFor maps a decision to the resulting status.
func StatusFor(d Decision) Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusDenied
}

// LockPathFor returns the sentinel file a decision is delivered through.
func LockPathFor(d Decision) string {
	if d == DecisionApprove {
		return ApproveLockPath
	}
	return DenyLockPath
}
