package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var transitions []State
	cb := NewCircuitBreaker("upstream", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker should fail fast, err=%v called=%v", err, called)
	}

	now = now.Add(time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should pass: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("upstream", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	cb.Execute(func() error { return errBoom })
	now = now.Add(2 * time.Second)
	cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected re-open, got %s", cb.GetState())
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped errBoom, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
