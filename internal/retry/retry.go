// Package retry implements linear fixed-delay retries.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the pause between attempts.
const DefaultDelay = 500 * time.Millisecond

// Policy describes a linear retry: up to MaxRetries+1 attempts separated by Delay.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Logger     *zap.Logger
}

// Do calls fn until it succeeds or the policy is exhausted. The error of the
// final attempt is returned unchanged. Cancelling ctx aborts the wait between
// attempts and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	maxRetries := max(p.MaxRetries, 0)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Delay):
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.Logger != nil && attempt < maxRetries {
			p.Logger.Warn("operation failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", p.Delay),
				zap.Error(err),
			)
		}
	}

	return zero, lastErr
}
