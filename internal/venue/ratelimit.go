package venue

import (
	"context"

	"golang.org/x/time/rate"
)

// newHostLimiter builds a token-bucket limiter refilling at
// requestsPerMin/60 tokens per second, with a burst equal to the full
// per-minute allowance so a cold start doesn't immediately throttle.
func newHostLimiter(requestsPerMin int) *rate.Limiter {
	perSecond := float64(requestsPerMin) / 60.0
	return rate.NewLimiter(rate.Limit(perSecond), requestsPerMin)
}

// waitLimiter blocks until the limiter admits one request or ctx is done.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	return l.Wait(ctx)
}
