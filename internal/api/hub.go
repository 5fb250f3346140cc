package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/talgya/jotrsim/internal/engine"
)

// subscriberBuffer is the number of pending snapshots kept per stream client.
// A slower client drops ticks rather than stalling the simulation.
const subscriberBuffer = 16

// Hub fans completed-tick snapshots out to stream subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan []byte)}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() (uint64, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan []byte, subscriberBuffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish sends a snapshot to every subscriber without blocking.
// Suitable as an engine OnTick callback.
func (h *Hub) Publish(snap engine.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		slog.Error("stream marshal failed", "tick", snap.Tick, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- b:
		default:
			slog.Debug("stream subscriber lagging, tick dropped", "sub_id", id, "tick", snap.Tick)
		}
	}
}
