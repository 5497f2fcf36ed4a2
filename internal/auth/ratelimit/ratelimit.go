// Package ratelimit implements fixed-window request admission over a shared
// counter store, so every gateway or service instance enforces one quota.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
)

// Store is an atomic increment-and-read counter. Incr returns the value
// after incrementing key; the key must expire ttl after its first
// increment and later increments must not extend it.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter admits at most Quota requests per client per window.
type Limiter struct {
	name     string
	quota    int64
	window   time.Duration
	failOpen bool
	store    Store
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a limiter for policy over store. m may be nil.
func New(policy config.RateLimitPolicy, store Store, m *metrics.Metrics) (*Limiter, error) {
	if policy.Quota <= 0 || policy.Window <= 0 {
		return nil, fmt.Errorf("rate limit %q: quota and window must be positive", policy.Name)
	}
	if policy.Name == "" {
		return nil, fmt.Errorf("rate limit policy needs a name")
	}
	return &Limiter{
		name:     policy.Name,
		quota:    policy.Quota,
		window:   policy.Window,
		failOpen: policy.FailOpen,
		store:    store,
		metrics:  m,
		now:      time.Now,
		logger:   slog.Default().With("component", "ratelimit", "policy", policy.Name),
	}, nil
}

// Name returns the policy name.
func (l *Limiter) Name() string { return l.name }

// Admit counts one request for clientKey. The counter is incremented
// before the comparison, so rejected requests still consume the window and
// no decrement is ever issued. When the store fails the limiter either
// admits (fail-open) or returns ErrLimiterUnavailable.
func (l *Limiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	key := "rl:" + l.name + ":" + clientKey + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	n, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		l.record("error")
		if l.failOpen {
			l.logger.Warn("rate limit store unavailable, admitting", "client", clientKey, "error", err)
			return Decision{Allowed: true, Limit: l.quota, Remaining: l.quota, ResetAt: reset}, nil
		}
		l.logger.Error("rate limit store unavailable, rejecting", "client", clientKey, "error", err)
		return Decision{}, fmt.Errorf("%w: %v", apperrors.ErrLimiterUnavailable, err)
	}

	d := Decision{
		Allowed: n <= l.quota,
		Limit:   l.quota,
		ResetAt: reset,
	}
	if d.Allowed {
		d.Remaining = l.quota - n
		l.record("allowed")
		return d, nil
	}
	d.RetryAfter = reset.Sub(now)
	l.record("rejected")
	l.logger.Warn("rate limit exceeded", "client", clientKey, "count", n, "quota", l.quota)
	return d, nil
}

func (l *Limiter) record(result string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(l.name, result).Inc()
	}
}
