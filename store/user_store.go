// File: store/user_store.go
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"blitzcup/models"
)

// ErrUserExists is returned when a username or email is already taken.
var ErrUserExists = errors.New("user already exists")

// UserStore is the durable account record.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetCurrentRoom(ctx context.Context, username, roomID string) error
}

// ----------------------- PostgreSQL implementation -----------------------

// PostgresUserStore keeps users in the users table.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore wraps an already-connected pool.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Create inserts a new user row. A taken username or email maps to
// ErrUserExists.
func (s *PostgresUserStore) Create(ctx context.Context, user *models.User) error {
	user.ID = uuid.NewString()
	const q = `
		INSERT INTO users (id, username, email, password_hash, cf_handle, current_room_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`
	_, err := s.pool.Exec(ctx, q,
		user.ID, user.Username, user.Email, user.Password, user.Handle, user.CurrentRoomID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

// GetByUsername returns the user with that username or ErrUserNotFound.
func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getBy(ctx, "username", username)
}

// GetByEmail returns the user with that email or ErrUserNotFound.
func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *PostgresUserStore) getBy(ctx context.Context, column, value string) (*models.User, error) {
	q := `
		SELECT id, username, email, password_hash, cf_handle, COALESCE(current_room_id, '')
		FROM users WHERE ` + column + ` = $1`
	var u models.User
	err := s.pool.QueryRow(ctx, q, value).Scan(
		&u.ID, &u.Username, &u.Email, &u.Password, &u.Handle, &u.CurrentRoomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetCurrentRoom records which room the user is in; empty roomID clears it.
func (s *PostgresUserStore) SetCurrentRoom(ctx context.Context, username, roomID string) error {
	const q = `UPDATE users SET current_room_id = NULLIF($2, '') WHERE username = $1`
	tag, err := s.pool.Exec(ctx, q, username, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ----------------------- in-memory implementation -----------------------

// MemoryUserStore is the test double for UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User // keyed by username
}

// NewMemoryUserStore returns an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

// Create stores the user, rejecting duplicate usernames and emails.
func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrUserExists
		}
	}
	cp := *user
	s.users[user.Username] = &cp
	return nil
}

// GetByUsername returns a copy of the stored user or ErrUserNotFound.
func (s *MemoryUserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetByEmail returns a copy of the stored user or ErrUserNotFound.
func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// SetCurrentRoom records the user's room; empty roomID clears it.
func (s *MemoryUserStore) SetCurrentRoom(_ context.Context, username, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.CurrentRoomID = roomID
	return nil
}
