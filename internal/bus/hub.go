package bus

import "sync"

// Hub is the concrete, in-process EventPublisher: a mutex-guarded map of
// subscriber callbacks. The gateway's WebSocket clients subscribe with
// their connection id; the orchestrator and scheduler broadcast into it.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]EventHandler)}
}

func (h *Hub) Subscribe(id string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = handler
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, 0, len(h.subs))
	for _, handler := range h.subs {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()
	for _, handler := range handlers {
		handler(event)
	}
}
