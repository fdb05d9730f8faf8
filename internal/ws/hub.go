package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deploy status events out to subscribers by project ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Subscriber]struct{}
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[Subscriber]struct{})}
}

// Register subscribes a client to a project's deploy events.
func (h *Hub) Register(projectID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[projectID]; !ok {
		h.clients[projectID] = make(map[Subscriber]struct{})
	}
	h.clients[projectID][client] = struct{}{}
}

// Unregister removes a subscription.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[projectID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, projectID)
		}
	}
}

// Broadcast delivers an event payload to every subscriber of the project.
// Clients whose connection has gone away are dropped.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	h.mu.RLock()
	var stale []Subscriber
	for client := range h.clients[projectID] {
		if err := client.Send(payload); err != nil {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()
	for _, client := range stale {
		h.Unregister(projectID, client)
	}
}
