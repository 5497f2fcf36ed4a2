package search

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/index"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
)

// Store is the durable copy of the index documents. The in-memory index
// is rebuilt from it at startup.
type Store interface {
	Upsert(ctx context.Context, doc index.Document) error
	Delete(ctx context.Context, postID string) error
	All(ctx context.Context) ([]index.Document, error)
}

// Migrations create the search document table.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS search_posts (
		post_id    TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

type PostgresStore struct {
	db *postgres.Client
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, doc index.Document) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO search_posts (post_id, user_id, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (post_id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, content = EXCLUDED.content, created_at = EXCLUDED.created_at`,
		doc.PostID, doc.UserID, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting search document %s: %w", doc.PostID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, postID string) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM search_posts WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("deleting search document %s: %w", postID, err)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) ([]index.Document, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT post_id, user_id, content, created_at FROM search_posts`)
	if err != nil {
		return nil, fmt.Errorf("loading search documents: %w", err)
	}
	defer rows.Close()

	var docs []index.Document
	for rows.Next() {
		var d index.Document
		if err := rows.Scan(&d.PostID, &d.UserID, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning search document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
