// Package store holds the durable records: rooms in Redis as JSON documents,
// users in PostgreSQL. In-memory variants back the tests.
// File: store/room_store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"blitzcup/models"
)

// Absent-record errors for the two stores.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")
)

// RoomStore is the durable room record. Per-room writes are
// last-writer-wins; during an active contest the in-memory session is the
// tie-breaking source of truth.
type RoomStore interface {
	Save(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Delete(ctx context.Context, roomID string) error
	Exists(ctx context.Context, roomID string) (bool, error)
}

// ----------------------- in-memory implementation -----------------------

// MemoryRoomStore keeps rooms in a map. Used by tests and as a fallback when
// no Redis address is configured.
type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string][]byte
}

// NewMemoryRoomStore returns an empty MemoryRoomStore.
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[string][]byte)}
}

// Save stores a deep copy of room (via JSON) so later mutations of the
// caller's struct never leak into the stored record.
func (s *MemoryRoomStore) Save(_ context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomID] = raw
	return nil
}

// Get returns the stored room or ErrRoomNotFound.
func (s *MemoryRoomStore) Get(_ context.Context, roomID string) (*models.Room, error) {
	s.mu.RLock()
	raw, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Delete removes the room. Deleting an absent room is not an error.
func (s *MemoryRoomStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// Exists reports whether roomID is stored.
func (s *MemoryRoomStore) Exists(_ context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}
