package fetcher

import (
	"context"
	"errors"
	"strings"
	"time"
)

// rateLimitMarkers are the provider error substrings treated as throttling.
// Providers rarely agree on a shape; string matching is the practical contract.
var rateLimitMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"exceeded",
	"cors",
}

// isRateLimited classifies an error as a provider throttle response. Call
// timeouts are grouped in: a stalled provider is retried the same way a
// throttled one is.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoffDelay returns min(base*attempt, max) for attempt >= 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(attempt)
	if delay > max {
		return max
	}
	return delay
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
