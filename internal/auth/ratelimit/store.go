package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

// RedisStore keeps counters in Redis, shared by every instance.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.client.IncrWindow(ctx, key, ttl)
}

// MemoryStore keeps counters in process. It only limits a single instance
// and exists for tests and local runs without Redis.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*entry
	now       func() time.Time
	lastSweep time.Time
}

type entry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{expiresAt: now.Add(ttl)}
		s.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// sweep drops expired entries at most once a minute.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
