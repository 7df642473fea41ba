// File: websocket/connection.go
package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"blitzcup/contest"
	"blitzcup/logger"
	"blitzcup/security"
)

// Configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2048
)

// WSConn is the slice of *websocket.Conn the gateway uses; tests substitute
// their own implementation.
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)
	Close() error
	RemoteAddr() net.Addr
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Upgrader upgrades HTTP requests to WebSocket connections.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection represents a single WebSocket connection for one client.
type Connection struct {
	id       string // volatile live-connection identifier
	username string
	conn     WSConn
	send     chan []byte
	gateway  *Gateway

	mu   sync.Mutex
	room string // subscribed room id, empty until join-room
}

func (c *Connection) roomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Connection) setRoomID(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

// Gateway owns the hub and the route from inbound events to the contest
// machine.
type Gateway struct {
	hub       *Hub
	machine   *contest.Machine
	jwtSecret []byte
}

// NewGateway wires the realtime gateway.
func NewGateway(hub *Hub, machine *contest.Machine, jwtSecret []byte) *Gateway {
	return &Gateway{hub: hub, machine: machine, jwtSecret: jwtSecret}
}

// ServeWs authenticates the request, upgrades it and starts the pumps.
// A missing or invalid token is rejected before the upgrade, each with its
// own reason.
func (g *Gateway) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		logger.Warn.Printf("[ServeWs] Missing token from %s", r.RemoteAddr)
		http.Error(w, "Missing auth token", http.StatusUnauthorized)
		return
	}
	username, err := security.ValidateToken(g.jwtSecret, token)
	if err != nil {
		logger.Warn.Printf("[ServeWs] Invalid token from %s", r.RemoteAddr)
		http.Error(w, "Invalid auth token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error.Printf("[ServeWs] WebSocket upgrade error: %v", err)
		return
	}

	c := &Connection{
		id:       uuid.NewString(),
		username: username,
		conn:     wsConn,
		send:     make(chan []byte, 256),
		gateway:  g,
	}
	logger.Info.Printf("[ServeWs] %s connected (conn=%s, remote=%v)", username, c.id, wsConn.RemoteAddr())

	g.hub.register(c)
	go c.readPump()
	go c.writePump()
}

// readPump handles inbound messages from the client.
func (c *Connection) readPump() {
	defer func() {
		c.gateway.hub.unregister(c)
		_ = c.conn.Close()
		logger.Info.Printf("[readPump] %s disconnected (conn=%s)", c.username, c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Warn.Printf("[readPump] Read error from %v: %v", c.conn.RemoteAddr(), err)
			break
		}
		if messageType != websocket.TextMessage {
			logger.Debug.Printf("[readPump] Ignoring non-text messageType=%d", messageType)
			continue
		}

		env, err := Decode(message)
		if err != nil {
			logger.Warn.Printf("[readPump] Invalid envelope from %v: %v", c.conn.RemoteAddr(), err)
			continue
		}
		c.handleIncoming(env)
	}
}

// writePump handles outbound messages to the client, including periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn.Printf("[writePump] Error writing to %v: %v", c.conn.RemoteAddr(), err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn.Printf("[writePump] Ping error for %v: %v", c.conn.RemoteAddr(), err)
				return
			}
		}
	}
}

// handleIncoming routes one inbound event.
func (c *Connection) handleIncoming(env *Envelope) {
	logger.Debug.Printf("[handleIncoming] event=%s user=%s conn=%s", env.Event, c.username, c.id)
	ctx := context.Background()

	switch env.Event {
	case InboundJoinRoom:
		payload, err := env.DecodeRoomPayload()
		if err != nil {
			logger.Warn.Printf("[handleIncoming] Bad join-room payload from %s", c.username)
			return
		}
		c.setRoomID(payload.RoomID)
		// Reconnecting clients reconstruct state from this snapshot; no
		// broadcast replay.
		snap, err := c.gateway.machine.Snapshot(ctx, payload.RoomID)
		if err != nil {
			logger.Warn.Printf("[handleIncoming] No snapshot for room %s: %v", payload.RoomID, err)
			return
		}
		c.sendEvent(contest.EventInitialState, snap)

	case InboundChatMessage:
		payload, err := env.DecodeChatPayload()
		if err != nil {
			logger.Warn.Printf("[handleIncoming] Bad chat payload from %s", c.username)
			return
		}
		roomID := payload.RoomID
		if roomID == "" {
			roomID = c.roomID()
		}
		if roomID == "" {
			return
		}
		if _, err := c.gateway.machine.AppendChat(ctx, roomID, c.username, payload.Text); err != nil {
			logger.Warn.Printf("[handleIncoming] Chat relay failed for room %s: %v", roomID, err)
		}

	case InboundLeaveRoom:
		c.setRoomID("")

	default:
		logger.Debug.Printf("[handleIncoming] Unhandled event: %s", env.Event)
	}
}

// sendEvent delivers one event to this connection only.
func (c *Connection) sendEvent(event string, payload interface{}) {
	data, err := Encode(event, payload)
	if err != nil {
		logger.Error.Printf("[sendEvent] Error marshalling %s event: %v", event, err)
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn.Printf("[sendEvent] Send buffer full for connection %s", c.id)
	}
}
