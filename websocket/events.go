// Package websocket is the realtime gateway: it upgrades authenticated
// connections, routes inbound room events to the contest machine, and fans
// machine broadcasts out to every subscriber of a room.
// File: websocket/events.go
package websocket

import (
	"encoding/json"
	"errors"
	"strings"
)

// Inbound event kinds. Outbound kinds live in the contest package, next to
// the machine that emits them.
const (
	InboundJoinRoom    = "join-room"
	InboundChatMessage = "chat-message"
	InboundLeaveRoom   = "leave-room"
)

var errBadEnvelope = errors.New("malformed event envelope")

// Envelope is the tagged wire format for realtime messages: an event-kind
// discriminator plus a fixed per-kind schema in data.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the data schema shared by join-room and leave-room.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// ChatPayload is the data schema of an inbound chat-message.
type ChatPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// Encode marshals an outbound envelope.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses and validates an inbound envelope at the boundary.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errBadEnvelope
	}
	if strings.TrimSpace(env.Event) == "" {
		return nil, errBadEnvelope
	}
	return &env, nil
}

// DecodeRoomPayload extracts the room id from a join/leave envelope.
func (e *Envelope) DecodeRoomPayload() (RoomPayload, error) {
	var p RoomPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.RoomID == "" {
		return RoomPayload{}, errBadEnvelope
	}
	return p, nil
}

// DecodeChatPayload extracts a chat line from an inbound envelope.
func (e *Envelope) DecodeChatPayload() (ChatPayload, error) {
	var p ChatPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || strings.TrimSpace(p.Text) == "" {
		return ChatPayload{}, errBadEnvelope
	}
	return p, nil
}
