// Package storage puts uploaded media into an object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

// ObjectStore is an S3-like blob store.
type ObjectStore interface {
	// Put writes size bytes from body under key.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// URL returns the public address of key.
	URL(key string) string
	Ping(ctx context.Context) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "s3":
		return NewS3(ctx, cfg)
	case "memory":
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
