// Package cache is a read-through JSON cache over Redis. Concurrent misses
// for one key are coalesced so the backing computation runs once.
//
// Entries are stored under a per-namespace generation. Invalidate bumps the
// generation, so a value computed before an invalidation is written under
// the old generation and never read again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

// Cache stores values of type T under a namespace. A nil Redis client
// disables caching; every lookup then computes.
type Cache[T any] struct {
	client    *pkgredis.Client
	namespace string
	ttl       time.Duration
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// New creates a cache whose keys all start with namespace + ":".
func New[T any](client *pkgredis.Client, namespace string, ttl time.Duration, m *metrics.Metrics) *Cache[T] {
	return &Cache[T]{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		metrics:   m,
		logger:    slog.Default().With("component", "cache", "namespace", namespace),
	}
}

const generationKey = "gen"

// Key builds a fixed-length key from parts.
func (c *Cache[T]) Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%s:%x", c.namespace, sum[:16])
}

// storageKey maps a Key result to where it lives under the current
// generation.
func (c *Cache[T]) storageKey(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, c.namespace+":"+generationKey)
	switch {
	case pkgredis.IsNilError(err):
		gen = "0"
	case err != nil:
		return "", fmt.Errorf("reading %s cache generation: %w", c.namespace, err)
	}
	return c.namespace + ":v" + gen + ":" + strings.TrimPrefix(key, c.namespace+":"), nil
}

// Get returns the cached value for key. Redis errors count as misses.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	if c.client == nil {
		return zero, false
	}
	sk, err := c.storageKey(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.miss()
		return zero, false
	}
	return c.get(ctx, sk)
}

func (c *Cache[T]) get(ctx context.Context, key string) (T, bool) {
	var zero T
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return zero, false
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return zero, false
	}
	c.hit()
	return v, true
}

// Set stores v under key. Failures are logged, not returned.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) {
	if c.client == nil {
		return
	}
	sk, err := c.storageKey(ctx, key)
	if err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
		return
	}
	c.set(ctx, sk, v)
}

func (c *Cache[T]) set(ctx context.Context, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached value or computes, stores and returns a
// fresh one. The bool reports a cache hit.
//
// The generation is read once up front; a concurrent Invalidate makes the
// result land under the superseded generation.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	if c.client == nil {
		v, err := compute(ctx)
		return v, false, err
	}
	sk, err := c.storageKey(ctx, key)
	if err != nil {
		c.logger.Error("cache lookup failed, computing uncached", "key", key, "error", err)
		c.miss()
		v, err := compute(ctx)
		return v, false, err
	}
	if v, ok := c.get(ctx, sk); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(sk, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		c.set(ctx, sk, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

// Delete removes individual keys.
func (c *Cache[T]) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	sks := make([]string, 0, len(keys))
	for _, k := range keys {
		sk, err := c.storageKey(ctx, k)
		if err != nil {
			return err
		}
		sks = append(sks, sk)
	}
	return c.client.Del(ctx, sks...)
}

// Invalidate starts a new generation and drops the entries stored so far.
func (c *Cache[T]) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	gen, err := c.client.Incr(ctx, c.namespace+":"+generationKey)
	if err != nil {
		return fmt.Errorf("invalidating %s cache: %w", c.namespace, err)
	}
	deleted, err := c.client.FlushByPattern(ctx, c.namespace+":v*")
	if err != nil {
		return fmt.Errorf("invalidating %s cache: %w", c.namespace, err)
	}
	c.logger.Debug("cache invalidated", "generation", gen, "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since creation.
func (c *Cache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache[T]) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache[T]) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
