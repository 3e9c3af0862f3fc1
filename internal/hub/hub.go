package hub

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ICShapy/shapy/pkg/log"
)

// Hub tracks the live clients of this process. Scene fan-out goes through
// the broadcast bus, not the hub.
type Hub struct {
	clients map[string]*Client
	idle    chan struct{} // closed while clients is empty
	mu      sync.RWMutex
}

func NewHub() *Hub {
	idle := make(chan struct{})
	close(idle)
	return &Hub{
		clients: make(map[string]*Client),
		idle:    idle,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.idle = make(chan struct{})
	}
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str("client_id", client.ID).Msg("client registered")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		if len(h.clients) == 0 {
			close(h.idle)
		}
	}
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str("client_id", client.ID).Msg("client unregistered")
}

// Count returns the number of live clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client with 1001 (going away) and waits until their
// read pumps have run the disconnect handlers, or until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	idle := h.idle
	h.mu.RUnlock()

	l := log.L()
	l.Info().Int("clients", len(clients)).Msg("closing websocket clients")
	for _, c := range clients {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
