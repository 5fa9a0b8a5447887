// Package history holds the short conversational memory passed into each
// chat sandbox.
package history

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

// Key addresses one (agent, user) conversation.
type Key struct {
	AgentID uuid.UUID
	UserID  int64
}

func (k Key) String() string {
	return "hermit:history:" + k.AgentID.String() + ":" + strconv.FormatInt(k.UserID, 10)
}

// Store keeps the most recent messages of a conversation, oldest first.
type Store interface {
	Append(ctx context.Context, key Key, msgs ...sandbox.Message) error
	Recent(ctx context.Context, key Key, n int) ([]sandbox.Message, error)
	Clear(ctx context.Context, key Key) error
}
