package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/resilience"
)

type deletedPayload struct {
	PostID string `json:"postId"`
}

func newTestBus(t *testing.T) *Memory {
	t.Helper()
	bus := NewMemory(Options{
		HandlerTimeout: time.Second,
		Retry:          resilience.RetryConfig{MaxAttempts: 1},
	})
	bus.RequeueDelay = time.Millisecond
	t.Cleanup(func() { bus.Close() })
	return bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMemoryFanOutAcrossGroups(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var search, media atomic.Int32
	if err := bus.Subscribe(ctx, Subscription{Pattern: "post.deleted", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		search.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, Subscription{Pattern: "post.*", Group: "media", Handler: func(ctx context.Context, ev Event) error {
		media.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "post.deleted", deletedPayload{PostID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, "post.created", deletedPayload{PostID: "p2"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "deliveries", func() bool { return search.Load() == 1 && media.Load() == 2 })
}

func TestMemoryDecodePayload(t *testing.T) {
	bus := newTestBus(t)
	got := make(chan string, 1)
	bus.Subscribe(context.Background(), Subscription{Pattern: "post.deleted", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		p, err := Decode[deletedPayload](ev)
		if err != nil {
			return err
		}
		got <- p.PostID
		return nil
	}})
	bus.Publish(context.Background(), "post.deleted", deletedPayload{PostID: "p9"})

	select {
	case id := <-got:
		if id != "p9" {
			t.Errorf("expected p9, got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryTransientErrorIsRedelivered(t *testing.T) {
	bus := newTestBus(t)
	var calls atomic.Int32
	bus.Subscribe(context.Background(), Subscription{Pattern: "post.created", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		if calls.Add(1) < 3 {
			return errors.New("index store unavailable")
		}
		return nil
	}})
	bus.Publish(context.Background(), "post.created", deletedPayload{PostID: "p1"})

	waitFor(t, "redelivery", func() bool { return calls.Load() == 3 })
	waitFor(t, "empty queue", func() bool { return bus.Pending() == 0 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 3 {
		t.Errorf("event delivered again after success: %d calls", calls.Load())
	}
}

func TestMemoryPoisonIsDroppedOnce(t *testing.T) {
	bus := newTestBus(t)
	var calls atomic.Int32
	bus.Subscribe(context.Background(), Subscription{Pattern: "post.created", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		calls.Add(1)
		_, err := Decode[struct{ N int }](Event{Topic: ev.Topic, ID: ev.ID, Payload: []byte(`"not an object"`)})
		return err
	}})
	bus.Publish(context.Background(), "post.created", deletedPayload{PostID: "p1"})

	waitFor(t, "first delivery", func() bool { return calls.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("poison message was redelivered: %d calls", calls.Load())
	}
}

func TestMemoryHandlerPanicIsPoison(t *testing.T) {
	bus := newTestBus(t)
	var calls atomic.Int32
	bus.Subscribe(context.Background(), Subscription{Pattern: "post.created", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		calls.Add(1)
		panic("nil map")
	}})
	bus.Publish(context.Background(), "post.created", deletedPayload{PostID: "p1"})
	waitFor(t, "delivery", func() bool { return calls.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("panicking handler retried: %d", calls.Load())
	}
}

func TestMemoryOrderWithinTopic(t *testing.T) {
	bus := newTestBus(t)
	var mu sync.Mutex
	var seen []string
	bus.Subscribe(context.Background(), Subscription{Pattern: "post.created", Group: "search", Handler: func(ctx context.Context, ev Event) error {
		p, err := Decode[deletedPayload](ev)
		if err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, p.PostID)
		mu.Unlock()
		return nil
	}})
	for _, id := range []string{"a", "b", "c", "d"} {
		bus.Publish(context.Background(), "post.created", deletedPayload{PostID: id})
	}
	waitFor(t, "all events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	})
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c", "d"} {
		if seen[i] != want {
			t.Fatalf("out of order delivery: %v", seen)
		}
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewMemory(Options{})
	bus.Close()
	if err := bus.Publish(context.Background(), "post.created", deletedPayload{}); err == nil {
		t.Error("expected error publishing on a closed bus")
	}
	if err := bus.Subscribe(context.Background(), Subscription{Pattern: "x", Group: "g", Handler: func(context.Context, Event) error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDecodeEnvelopeFallsBackToRawPayload(t *testing.T) {
	ev := decodeEnvelope([]byte(`{"postId":"p1","userId":"u1"}`), "post.deleted", "m1", time.Time{})
	if ev.Topic != "post.deleted" || ev.ID != "m1" {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	p, err := Decode[deletedPayload](ev)
	if err != nil || p.PostID != "p1" {
		t.Fatalf("decode raw payload: %v %+v", err, p)
	}
}
