package delegation

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request asks an operator to let one agent hand a task to another role.
type Request struct {
	ID            string    `json:"id"`
	FromAgentID   uuid.UUID `json:"fromAgentId"`
	FromAgentName string    `json:"fromAgentName"`
	UserID        int64     `json:"userId"`
	ChatID        int64     `json:"chatId"`
	TargetRole    string    `json:"targetRole"`
	Task          string    `json:"task"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// NewRequest builds a request created at now that expires after ttl.
func NewRequest(fromID uuid.UUID, fromName string, userID, chatID int64, role, task string, now time.Time, ttl time.Duration) *Request {
	return &Request{
		ID:            uuid.NewString(),
		FromAgentID:   fromID,
		FromAgentName: fromName,
		UserID:        userID,
		ChatID:        chatID,
		TargetRole:    role,
		Task:          task,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

func (r *Request) Key() string { return r.ID }

func (r *Request) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Intent is a parsed delegation marker.
type Intent struct {
	TargetRole string
	Task       string
}

// A delegation marker is one output line: [DELEGATE:<role>] <task>
var markerRe = regexp.MustCompile(`^\s*\[DELEGATE:\s*([^\]]+?)\s*\]\s*(.+?)\s*$`)

// Detect returns the first delegation marker in output.
func Detect(output string) (Intent, bool) {
	for _, line := range strings.Split(output, "\n") {
		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return Intent{TargetRole: m[1], Task: m[2]}, true
	}
	return Intent{}, false
}
