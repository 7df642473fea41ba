// File: store/postgres.go
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"blitzcup/logger"
)

// usersSchema is applied at startup; idempotent.
const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	username        TEXT NOT NULL UNIQUE,
	email           TEXT NOT NULL UNIQUE,
	password_hash   TEXT NOT NULL,
	cf_handle       TEXT NOT NULL DEFAULT '',
	current_room_id TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPool connects to PostgreSQL, verifies the connection and ensures the
// users table exists.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, usersSchema); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info.Println("Connected to PostgreSQL")
	return pool, nil
}
