package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn under a context that expires after timeout. fn is
// expected to honour ctx; a deadline hit is reported as
// context.DeadlineExceeded wrapped with name.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit: %v): %v", name, context.DeadlineExceeded, timeout, err)
	}
	return err
}
