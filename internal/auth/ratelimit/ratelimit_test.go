package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return NewRedisStore(c), mr
}

func TestAdmitRejectsAfterQuotaAndResets(t *testing.T) {
	policy := config.RateLimitPolicy{Name: "register", Quota: 50, Window: 15 * time.Minute}
	l, err := New(policy, NewMemoryStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 50; i++ {
		d, err := l.Admit(ctx, "203.0.113.7")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be admitted: %+v %v", i, d, err)
		}
		if d.Remaining != int64(50-i) {
			t.Fatalf("request %d: remaining %d", i, d.Remaining)
		}
	}
	d, err := l.Admit(ctx, "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("51st request must be rejected")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Errorf("expected retry after the full window, got %v", d.RetryAfter)
	}

	if d, _ := l.Admit(ctx, "198.51.100.1"); !d.Allowed {
		t.Error("other clients have their own counters")
	}

	now = now.Add(15 * time.Minute)
	if d, _ := l.Admit(ctx, "203.0.113.7"); !d.Allowed {
		t.Error("admission should resume in the next window")
	}
}

func TestAdmitRedisWindowExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	l, _ := New(config.RateLimitPolicy{Name: "identity", Quota: 2, Window: time.Second}, store, nil)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, err := l.Admit(ctx, "c"); err != nil || !d.Allowed {
			t.Fatalf("expected admit: %+v %v", d, err)
		}
	}
	if d, _ := l.Admit(ctx, "c"); d.Allowed {
		t.Fatal("expected reject")
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one counter key, got %v", mr.Keys())
	}
	if ttl := mr.TTL(mr.Keys()[0]); ttl <= 0 || ttl > time.Second {
		t.Errorf("counter ttl should be bounded by the window, got %v", ttl)
	}
}

func TestConcurrentInstancesNeverExceedQuota(t *testing.T) {
	store, _ := newRedisStore(t)
	policy := config.RateLimitPolicy{Name: "global", Quota: 100, Window: time.Hour}
	fixed := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	const instances = 8
	const perInstance = 40
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		l, _ := New(policy, store, nil)
		l.now = func() time.Time { return fixed }
		for j := 0; j < perInstance; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := l.Admit(context.Background(), "10.0.0.1")
				if err != nil {
					t.Error(err)
					return
				}
				if d.Allowed {
					admitted.Add(1)
				}
			}()
		}
	}
	wg.Wait()
	if got := admitted.Load(); got != 100 {
		t.Fatalf("expected exactly 100 admissions across instances, got %d", got)
	}
}

func TestStoreFailure(t *testing.T) {
	closed, err := New(config.RateLimitPolicy{Name: "global", Quota: 1, Window: time.Minute}, failingStore{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := closed.Admit(context.Background(), "c"); !errors.Is(err, apperrors.ErrLimiterUnavailable) {
		t.Errorf("fail-closed limiter should return ErrLimiterUnavailable, got %v", err)
	}

	open, _ := New(config.RateLimitPolicy{Name: "global", Quota: 1, Window: time.Minute, FailOpen: true}, failingStore{}, nil)
	d, err := open.Admit(context.Background(), "c")
	if err != nil || !d.Allowed {
		t.Errorf("fail-open limiter should admit, got %+v %v", d, err)
	}
}

func TestNewRejectsBadPolicy(t *testing.T) {
	if _, err := New(config.RateLimitPolicy{Name: "x", Quota: 0, Window: time.Second}, NewMemoryStore(), nil); err == nil {
		t.Error("expected error for zero quota")
	}
}

func TestMemoryStoreSweepsExpired(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Incr(context.Background(), "a", time.Second)
	now = now.Add(2 * time.Minute)
	s.Incr(context.Background(), "b", time.Second)
	if s.Len() != 1 {
		t.Errorf("expected expired counter swept, have %d", s.Len())
	}
}
