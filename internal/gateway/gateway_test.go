package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizarik/brkTrd-zr0/internal/config"
)

func fastGatewayConfig() config.Gateway {
	return config.Gateway{
		RatePerMinute: 6000,
		Burst:         10,
		DailyCap:      3,
		MaxRetries:    3,
		BackoffBaseMs: 1,
		BackoffMaxMul: 5,
		TimeoutMs:     1000,
	}
}

func TestDailyBudgetExhaustion(t *testing.T) {
	l := NewSourceLimiter("sim", fastGatewayConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	err := l.Acquire(ctx)
	require.Error(t, err)
	require.True(t, IsRateLimited(err))
	require.Equal(t, 0, l.Remaining())
}

func TestRetryStopsOnFatal(t *testing.T) {
	p := NewRetryPolicy(fastGatewayConfig())
	calls := 0
	err := p.Do(context.Background(), "sim", func(ctx context.Context) error {
		calls++
		return NewFatalError("sim", "bad credentials", nil)
	})
	require.True(t, IsFatal(err))
	require.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransient(t *testing.T) {
	p := NewRetryPolicy(fastGatewayConfig())
	calls := 0
	err := p.Do(context.Background(), "sim", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError("sim", "connection reset", errors.New("reset"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := NewRetryPolicy(fastGatewayConfig())
	calls := 0
	err := p.Do(context.Background(), "sim", func(ctx context.Context) error {
		calls++
		return NewTransientError("sim", "timeout", nil)
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: 50 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "sim", func(ctx context.Context) error {
		calls++
		return NewTransientError("sim", "timeout", nil)
	})
	require.Error(t, err)
	require.LessOrEqual(t, calls, 2)
}

func TestUnclassifiedErrorsAreRetryable(t *testing.T) {
	require.True(t, IsRetryable(errors.New("mystery")))
	require.False(t, IsRetryable(nil))
	require.False(t, IsFatal(errors.New("mystery")))
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("sim", 3, time.Hour)
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Record(NewTransientError("sim", "timeout", nil))
	}
	require.Equal(t, BreakerClosed, b.State())

	require.True(t, b.Allow())
	b.Record(NewTransientError("sim", "timeout", nil))
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("sim", 3, time.Hour)
	b.Record(NewTransientError("sim", "timeout", nil))
	b.Record(NewTransientError("sim", "timeout", nil))
	b.Record(nil)
	b.Record(NewTransientError("sim", "timeout", nil))
	b.Record(NewTransientError("sim", "timeout", nil))
	require.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("sim", 1, 5*time.Millisecond)
	b.Record(NewTransientError("sim", "timeout", nil))
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.Allow())

	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())
	require.False(t, b.Allow())

	b.Record(NewTransientError("sim", "timeout", nil))
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Allow())
	b.Record(nil)
	require.Equal(t, BreakerClosed, b.State())
	require.True(t, b.Allow())
}
