package llm

import (
	"context"
	"time"

	"ledgerchat/internal/contextutil"
)

const (
	maxAttempts = 3

	baseDelay      = 500 * time.Millisecond
	rateLimitDelay = 5 * time.Second
	maxDelay       = 30 * time.Second
)

// withRetry runs fn with bounded exponential backoff. Non-retryable failures
// (safety, configuration) return immediately; rate limits wait on a longer
// clock than ordinary transient errors.
func withRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == maxAttempts {
			break
		}

		wait := delay
		if KindOf(err) == KindRateLimit && wait < rateLimitDelay {
			wait = rateLimitDelay
		}
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "generation attempt failed, retrying",
			"op", op, "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return zero, lastErr
}
