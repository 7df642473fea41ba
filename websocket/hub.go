// File: websocket/hub.go
package websocket

import (
	"sync"

	"blitzcup/logger"
)

// roomMessage is one encoded event bound for every subscriber of a room.
type roomMessage struct {
	roomID string
	data   []byte
}

// Hub tracks live connections and fans room-scoped messages out to them.
// Delivery is at-least-once, best-effort, fire-and-forget: slow consumers
// get dropped messages, and reconnecting clients rebuild state from a
// durable snapshot rather than replayed broadcasts.
type Hub struct {
	mu          sync.Mutex
	connections map[*Connection]bool
	broadcast   chan roomMessage
}

// NewHub returns a Hub ready for Run.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan roomMessage, 256),
	}
}

// Run drains the broadcast channel and delivers each message to the
// matching room's connections. Messages for a room are delivered in the
// order the contest machine emitted them.
func (h *Hub) Run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		for c := range h.connections {
			if c.roomID() != msg.roomID {
				continue
			}
			select {
			case c.send <- msg.data:
			default:
				logger.Warn.Printf("Dropping broadcast message for connection %s", c.id)
			}
		}
		h.mu.Unlock()
	}
}

// BroadcastToRoom encodes an event and queues it for every subscriber of
// roomID. Implements the contest machine's Messenger contract; it never
// blocks the caller.
func (h *Hub) BroadcastToRoom(roomID, event string, payload interface{}) {
	data, err := Encode(event, payload)
	if err != nil {
		logger.Error.Printf("[BroadcastToRoom] Error marshalling %s event: %v", event, err)
		return
	}
	select {
	case h.broadcast <- roomMessage{roomID: roomID, data: data}:
	default:
		logger.Warn.Printf("[BroadcastToRoom] Broadcast queue full, dropping %s event for room %s", event, roomID)
	}
}

// register adds the connection to the fan-out set.
func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// unregister removes the connection. Safe to call twice.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c)
}
