package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryIf calls fn up to maxTries times while it fails with an error
// accepted by retryable, sleeping backoff, 2*backoff, ... between tries.
// Non-retryable errors and context cancellation return immediately.
// If maxTries <= 0, it defaults to 1.
func RetryIf(ctx context.Context, maxTries int, backoff time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	delay := backoff
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || !retryable(err) {
			return err
		}
		lastErr = err

		if i == maxTries-1 || delay <= 0 {
			continue
		}
		logger.Debug("retrying", "attempt", i+1, "max", maxTries, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
