package common

import (
	"context"
	"time"
)

// Backoff retry defaults for idempotent storage reads.
const (
	BackoffBase     = 100 * time.Millisecond
	BackoffCap      = 2 * time.Second
	BackoffAttempts = 3
)

// Retry runs fn up to BackoffAttempts times, sleeping with exponential
// backoff (base 100ms, cap 2s) between attempts. Only retryable errors are
// retried; the last error is returned once the budget is exhausted.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	delay := BackoffBase

	for attempt := 0; attempt < BackoffAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == BackoffAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > BackoffCap {
			delay = BackoffCap
		}
	}
	return err
}
