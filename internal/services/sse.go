package services

import (
	"sync"
)

// ExportEvent is a status change of an export job.
type ExportEvent struct {
	JobID     uint   `json:"job_id"`
	ProjectID uint   `json:"project_id"`
	UserID    uint   `json:"user_id"`
	Status    string `json:"status"` // pending, running, completed, failed
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sseClient struct {
	ch     chan ExportEvent
	caller Caller
}

// SSEHub fans export events out to connected clients. A client only sees its own
// jobs unless it is an admin.
type SSEHub struct {
	clients map[string]*sseClient
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]*sseClient),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *SSEHub) Subscribe(clientID string, caller Caller) <-chan ExportEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ExportEvent, 100)
	h.clients[clientID] = &sseClient{ch: ch, caller: caller}
	return ch
}

func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks: a client with a full buffer misses the event.
func (h *SSEHub) Publish(event ExportEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.caller.UserID != event.UserID && !c.caller.IsAdmin() {
			continue
		}
		select {
		case c.ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var (
	globalSSEHub *SSEHub
	sseHubOnce   sync.Once
)

// GetSSEHub returns the process-wide hub.
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}
