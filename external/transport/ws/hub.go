package ws

import (
	"log/slog"
	"sync"

	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
)

// Hub fans room events out to every connection that joined the room.
type Hub struct {
	metrics *metrics.Metrics

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Join(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	if _, exists := members[c]; exists {
		return
	}
	members[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.RoomMembers.Inc()
	}
}

// Leave removes c from every room it joined.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, members := range h.rooms {
		if _, ok := members[c]; !ok {
			continue
		}
		delete(members, c)
		if h.metrics != nil {
			h.metrics.RoomMembers.Dec()
		}
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Emit encodes once and queues the frame on each member without blocking.
func (h *Hub) Emit(event string, payload any, roomID string) {
	frame, err := encode(outboundMessage{Type: event, Data: payload})
	if err != nil {
		slog.Error("failed to encode room event", "error", err, "event", event, "room", roomID)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		c.send(frame)
	}
}
