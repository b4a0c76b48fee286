// Package live pushes draft store snapshots to websocket clients.
package live

import (
	"encoding/json"
	"log/slog"
	"sync"

	"draftcal/internal/store"
)

const messageTypeState = "drafts_state"

// Message is a state notification sent to every client.
type Message struct {
	Type  string      `json:"type"`
	State store.State `json:"state"`
}

// NewMessage wraps a store snapshot.
func NewMessage(s store.State) Message {
	return Message{Type: messageTypeState, State: s}
}

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Attach broadcasts every snapshot the store produces.
func (h *Hub) Attach(st *store.Store) {
	st.Subscribe(func(s store.State) {
		h.Broadcast(NewMessage(s))
	})
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the store.
			h.logger.Debug("Dropping state message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
