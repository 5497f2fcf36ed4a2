// Package media accepts uploads, stores them in object storage and
// removes them again when the owning post is deleted.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
)

// Media is the metadata of one stored object.
type Media struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ObjectKey    string    `json:"-"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repository persists media metadata.
type Repository interface {
	Create(ctx context.Context, m *Media) error
	List(ctx context.Context, limit int) ([]Media, error)
	// Owned returns the rows among ids that belong to userID. Unknown ids
	// are skipped.
	Owned(ctx context.Context, userID string, ids []string) ([]Media, error)
	Delete(ctx context.Context, ids []string) error
}

// Migrations create the media table.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS media (
		id            UUID PRIMARY KEY,
		user_id       TEXT NOT NULL,
		original_name TEXT NOT NULL,
		mime_type     TEXT NOT NULL,
		size_bytes    BIGINT NOT NULL,
		object_key    TEXT NOT NULL,
		url           TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS media_user_idx ON media (user_id)`,
}

// PostgresRepository keeps media rows in PostgreSQL.
type PostgresRepository struct {
	db *postgres.Client
}

func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, m *Media) error {
	err := r.db.DB.QueryRowContext(ctx,
		`INSERT INTO media (id, user_id, original_name, mime_type, size_bytes, object_key, url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		m.ID, m.UserID, m.OriginalName, m.MimeType, m.Size, m.ObjectKey, m.URL,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting media: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Media, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, user_id, original_name, mime_type, size_bytes, object_key, url, created_at
		 FROM media ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing media: %w", err)
	}
	defer rows.Close()
	return scanMedia(rows)
}

func (r *PostgresRepository) Owned(ctx context.Context, userID string, ids []string) ([]Media, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, user_id, original_name, mime_type, size_bytes, object_key, url, created_at
		 FROM media WHERE user_id = $1 AND id::text = ANY($2)`,
		userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("loading media: %w", err)
	}
	defer rows.Close()
	return scanMedia(rows)
}

func (r *PostgresRepository) Delete(ctx context.Context, ids []string) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM media WHERE id::text = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting media: %w", err)
	}
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMedia(rows rowScanner) ([]Media, error) {
	out := make([]Media, 0)
	for rows.Next() {
		var m Media
		if err := rows.Scan(&m.ID, &m.UserID, &m.OriginalName, &m.MimeType, &m.Size, &m.ObjectKey, &m.URL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning media row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
