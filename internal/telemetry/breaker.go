package telemetry

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 60 * time.Second
)

// circuitBreaker gates metric emission. While open, emission is skipped
// entirely; after the recovery window a single probe is allowed.
type circuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	threshold   int
	recovery    time.Duration
	lastFailure time.Time
	now         func() time.Time
}

func newCircuitBreaker(threshold int, recovery time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = defaultRecoveryTimeout
	}
	return &circuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// allow reports whether an emission attempt may proceed. Moving from open to
// half_open hands the single probe to the caller that observed the elapsed
// recovery window.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.recovery {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default: // half_open: probe already in flight
		return false
	}
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

func (b *circuitBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker position.
func (b *circuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *circuitBreaker) failureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
