package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// SourceLimiter enforces a per-source token bucket plus a daily request
// budget that resets 24h after first use.
type SourceLimiter struct {
	source  string
	limiter *rate.Limiter

	mu        sync.Mutex
	dailyCap  int
	usedToday int
	resetAt   time.Time
}

func NewSourceLimiter(source string, cfg config.Gateway) *SourceLimiter {
	return &SourceLimiter{
		source:   source,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), cfg.Burst),
		dailyCap: cfg.DailyCap,
		resetAt:  time.Now().Add(24 * time.Hour),
	}
}

// Acquire blocks until a request slot is available or the context ends.
// A spent daily budget fails immediately rather than blocking until reset.
func (l *SourceLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	if now.After(l.resetAt) {
		l.usedToday = 0
		l.resetAt = now.Add(24 * time.Hour)
	}
	if l.usedToday >= l.dailyCap {
		l.mu.Unlock()
		observ.IncCounter("gateway_rate_limited_total", map[string]string{"source": l.source, "reason": "daily_budget"})
		return NewRateLimitError(l.source, "daily request budget exhausted")
	}
	l.usedToday++
	used := l.usedToday
	l.mu.Unlock()

	observ.SetGauge("gateway_budget_used", float64(used), map[string]string{"source": l.source})
	if err := l.limiter.Wait(ctx); err != nil {
		return NewTransientError(l.source, "rate limit wait cancelled", err)
	}
	return nil
}

// Remaining reports the unspent daily budget.
func (l *SourceLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Now().After(l.resetAt) {
		return l.dailyCap
	}
	return l.dailyCap - l.usedToday
}
