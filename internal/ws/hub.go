// Package ws pushes real-time updates to connected frontends. The hub
// fans every broadcast out to all open connections; one slow or broken
// connection is dropped without affecting the others.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
)

// Message is the envelope pushed to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub tracks open connections and fans out broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.Named("ws"),
	}
}

// AttachBus forwards score and alert events to all connected clients.
func (h *Hub) AttachBus(b bus.Bus) error {
	if err := b.Subscribe(bus.TopicScoreUpdated, func(ctx context.Context, data []byte) error {
		h.broadcastEvent("score_updated", data)
		return nil
	}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicAlertCreated, func(ctx context.Context, data []byte) error {
		h.broadcastEvent("alert_created", data)
		return nil
	})
}

func (h *Hub) broadcastEvent(eventType string, payload []byte) {
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		h.logger.Error("decoding bus payload for broadcast", zap.Error(err))
		return
	}
	h.Broadcast(Message{Type: eventType, Data: data})
}

// Broadcast queues msg on every open connection. Clients whose send buffer
// is full are closed and removed; the rest are unaffected.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping unresponsive client")
			h.remove(c)
		}
	}
}

// ConnectionCount reports the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", zap.Int("total", total))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if present {
		c.closeOnce.Do(func() { close(c.send) })
		h.logger.Info("client disconnected", zap.Int("remaining", total))
	}
}
