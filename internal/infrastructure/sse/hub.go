package sse

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/event"
)

// Hub manages SSE clients and implements event.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*event.Client
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*event.Client),
		logger:  logger.With().Str("service", "sse").Logger(),
	}
}

func (h *Hub) Register(client *event.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts to every client. Clients with a full buffer miss the
// message.
func (h *Hub) Publish(kind string, payload any) {
	msg, err := event.NewMessage(kind, payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", kind).Msg("event not encodable")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !trySend(c, msg) {
			h.logger.Debug().Str("client_id", c.ID).Str("event", kind).Msg("client buffer full, dropped")
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *event.Client, msg *event.Message) bool {
	select {
	case c.Messages <- msg:
		return true
	default:
		return false
	}
}
