// Package identity registers users and exchanges credentials for access
// tokens.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
)

// User is a registered account. PasswordHash never leaves the service.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users.
type Store interface {
	// Create inserts u, filling ID and CreatedAt. Duplicate usernames or
	// emails yield ErrConflict.
	Create(ctx context.Context, u *User) error
	// FindByEmail returns ErrNotFound when no user matches.
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Migrations create the users table.
var Migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// PostgresStore keeps users in PostgreSQL.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates a Store backed by db.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "identity-store"),
	}
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		u.Username, strings.ToLower(u.Email), u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return apperrors.New(apperrors.ErrConflict, http.StatusConflict, "User already exists")
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Info("user created", "user_id", u.ID)
	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}
