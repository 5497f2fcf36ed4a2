package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

type result struct {
	IDs []string `json:"ids"`
}

func newTestCache(t *testing.T) (*Cache[result], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return New[result](client, "search", time.Minute, nil), mr
}

func TestGetOrCompute(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := c.Key("hello world", "10")

	var calls atomic.Int32
	compute := func(context.Context) (result, error) {
		calls.Add(1)
		return result{IDs: []string{"p1"}}, nil
	}

	v, hit, err := c.GetOrCompute(ctx, key, compute)
	if err != nil || hit || len(v.IDs) != 1 {
		t.Fatalf("first lookup: %v %v %v", v, hit, err)
	}
	v, hit, _ = c.GetOrCompute(ctx, key, compute)
	if !hit || v.IDs[0] != "p1" {
		t.Errorf("second lookup should hit, got %v %v", v, hit)
	}
	if calls.Load() != 1 {
		t.Errorf("compute ran %d times", calls.Load())
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("unexpected stats %d/%d", hits, misses)
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	boom := errors.New("index unavailable")
	_, _, err := c.GetOrCompute(context.Background(), c.Key("q"), func(context.Context) (result, error) {
		return result{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("failed computation must not be cached: %v", mr.Keys())
	}
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	c, _ := newTestCache(t)
	key := c.Key("popular")
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCompute(context.Background(), key, func(context.Context) (result, error) {
				calls.Add(1)
				<-release
				return result{IDs: []string{"p"}}, nil
			})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("expected one computation, got %d", n)
	}
}

func TestInvalidateOnlyTouchesNamespace(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, c.Key("a"), result{})
	c.Set(ctx, c.Key("b"), result{})
	mr.Set("rl:global:1.2.3.4:0", "3")

	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	keys := mr.Keys()
	if len(keys) != 2 || keys[0] != "rl:global:1.2.3.4:0" || keys[1] != "search:gen" {
		t.Errorf("unexpected keys after invalidate: %v", keys)
	}
	if _, ok := c.Get(ctx, c.Key("a")); ok {
		t.Error("entry survived invalidation")
	}
}

func TestComputeRacingInvalidateIsNotServed(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := c.Key("fresh post", "10")
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GetOrCompute(ctx, key, func(context.Context) (result, error) {
			close(started)
			<-release
			return result{IDs: []string{"stale"}}, nil
		})
	}()
	<-started
	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-done

	v, hit, err := c.GetOrCompute(ctx, key, func(context.Context) (result, error) {
		return result{IDs: []string{"stale", "new"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hit || len(v.IDs) != 2 {
		t.Errorf("result computed before invalidation was served: %v hit=%v", v, hit)
	}
}

func TestNilClientDisablesCache(t *testing.T) {
	c := New[result](nil, "posts", time.Minute, nil)
	var calls int
	for i := 0; i < 2; i++ {
		c.GetOrCompute(context.Background(), "k", func(context.Context) (result, error) {
			calls++
			return result{}, nil
		})
	}
	if calls != 2 {
		t.Errorf("expected every lookup to compute, got %d", calls)
	}
}
