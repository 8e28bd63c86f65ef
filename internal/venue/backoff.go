package venue

import (
	"context"
	"math"
	"time"
)

// Backoff computes an exponential delay capped at maxBackoff: base·2^attempt.
func Backoff(base time.Duration, attempt int, maxBackoff time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// RetryWithBackoff calls fn until it succeeds, ctx is cancelled, or fn
// returns a non-retryable error. Retryable errors (per IsRetryable) are
// retried with exponential backoff starting at base, capped at maxBackoff.
func RetryWithBackoff(ctx context.Context, base, maxBackoff time.Duration, fn func() error) error {
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		wait := Backoff(base, attempt, maxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}
}
