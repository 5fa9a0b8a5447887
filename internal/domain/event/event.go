// Package event describes operator-facing notifications streamed over SSE.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	ApprovalRequested   = "approval.requested"
	ApprovalResolved    = "approval.resolved"
	DelegationRequested = "delegation.requested"
	DelegationResolved  = "delegation.resolved"
	RunFinished         = "run.finished"
)

// Message is one SSE frame.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage marshals payload into a message of the given kind.
func NewMessage(kind string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.New().String(),
		Event:     kind,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Client is one connected SSE subscriber.
type Client struct {
	ID          string
	Subject     string
	ConnectedAt time.Time
	Messages    chan *Message
}

func NewClient(id, subject string) *Client {
	return &Client{
		ID:          id,
		Subject:     subject,
		ConnectedAt: time.Now().UTC(),
		Messages:    make(chan *Message, 100),
	}
}

// Close closes the client's message channel.
func (c *Client) Close() {
	close(c.Messages)
}

// Publisher fans events out to subscribers. Publishing never blocks.
type Publisher interface {
	Publish(kind string, payload any)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(string, any) {}
