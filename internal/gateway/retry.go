package gateway

import (
	"context"
	"math/rand"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// RetryPolicy retries transient and rate-limited failures with exponential
// backoff plus jitter. The delay is capped at base*maxMultiplier so a long
// retry chain cannot stall a cycle.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func NewRetryPolicy(cfg config.Gateway) RetryPolicy {
	base := time.Duration(cfg.BackoffBaseMs) * time.Millisecond
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		Base:        base,
		MaxDelay:    base * time.Duration(cfg.BackoffMaxMul),
	}
}

// Do runs fn up to MaxAttempts times. Fatal errors and context cancellation
// stop the loop immediately.
func (p RetryPolicy) Do(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Base * (1 << (attempt - 1))
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			jitter := time.Duration(rand.Int63n(int64(p.Base)/2 + 1))
			select {
			case <-ctx.Done():
				return NewTransientError(source, "retry wait cancelled", ctx.Err())
			case <-time.After(delay + jitter):
			}
			observ.IncCounter("gateway_retries_total", map[string]string{"source": source})
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsFatal(lastErr) {
			observ.IncCounter("gateway_fatal_errors_total", map[string]string{"source": source})
			return lastErr
		}
		if IsRateLimited(lastErr) {
			observ.IncCounter("gateway_rate_limited_total", map[string]string{"source": source, "reason": "upstream"})
		}
	}
	return lastErr
}
