// File: store/redis_room_store.go
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"blitzcup/models"
)

const roomKeyPrefix = "room:"

// RedisRoomStore persists each room as one JSON document under "room:<id>".
type RedisRoomStore struct {
	client *redis.Client
}

// NewRedisRoomStore wraps an already-connected Redis client.
func NewRedisRoomStore(client *redis.Client) *RedisRoomStore {
	return &RedisRoomStore{client: client}
}

// Save writes the full room document. Last writer wins.
func (s *RedisRoomStore) Save(ctx context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, roomKeyPrefix+room.RoomID, raw, 0).Err()
}

// Get returns the stored room or ErrRoomNotFound.
func (s *RedisRoomStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	raw, err := s.client.Get(ctx, roomKeyPrefix+roomID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Delete removes the room document.
func (s *RedisRoomStore) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomKeyPrefix+roomID).Err()
}

// Exists reports whether the room document is present.
func (s *RedisRoomStore) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKeyPrefix+roomID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
