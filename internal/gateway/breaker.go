package gateway

import (
	"sync"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// BreakerState is the classic three-state circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker trips a source after consecutive retry-exhausted failures so a
// dead upstream is not hammered every cycle. After the cooldown one probe
// call is let through; success closes the circuit, failure re-opens it.
type Breaker struct {
	source    string
	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

func NewBreaker(source string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		source:    source,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return true
}

// Record feeds a call outcome back into the circuit.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
		if err == nil {
			b.failures = 0
			b.setState(BreakerClosed)
		} else {
			b.openedAt = time.Now()
			b.setState(BreakerOpen)
		}
		return
	}
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.openedAt = time.Now()
		b.setState(BreakerOpen)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	observ.Log("breaker_state_change", map[string]any{"source": b.source, "state": s})
	v := 0.0
	if s != BreakerClosed {
		v = 1
	}
	observ.SetGauge("gateway_breaker_open", v, map[string]string{"source": b.source})
}
