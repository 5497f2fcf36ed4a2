// Package post owns posts: creation, listing, lookup and owner-only
// deletion. Every committed change is announced on the event bus.
package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
)

// Post is one user post.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists posts.
type Store interface {
	Create(ctx context.Context, p *Post) error
	// List returns one page, newest first, and the total count.
	List(ctx context.Context, offset, limit int) ([]Post, int, error)
	Get(ctx context.Context, id string) (*Post, error)
	// Delete removes the post if userID owns it and returns what was
	// removed. Missing posts yield ErrNotFound; someone else's yield
	// ErrForbidden.
	Delete(ctx context.Context, id, userID string) (*Post, error)
}

// Migrations create the posts table.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		media_ids  TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts (created_at DESC)`,
}

// PostgresStore keeps posts in PostgreSQL.
type PostgresStore struct {
	db *postgres.Client
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Post) error {
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO posts (id, user_id, content, media_ids) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		p.ID, p.UserID, p.Content, pq.Array(p.MediaIDs),
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]Post, int, error) {
	var total int
	if err := s.db.DB.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting posts: %w", err)
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts
		 ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Content, pq.Array(&p.MediaIDs), &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning post row: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Post, error) {
	var p Post
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Content, pq.Array(&p.MediaIDs), &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching post %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id, userID string) (*Post, error) {
	var p Post
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&p.ID, &p.UserID, &p.Content, pq.Array(&p.MediaIDs), &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking post %s: %w", id, err)
		}
		if p.UserID != userID {
			return apperrors.ErrForbidden
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deleting post %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
