package resource

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while the breaker is OPEN.
var ErrBreakerOpen = errors.New("resource: circuit open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker is a small mutex-guarded three-state machine guarding
// outbound downloads: CLOSED until repeated failures trip it OPEN, then a
// cooldown before a single HALF_OPEN probe decides recovery.
type CircuitBreaker struct {
	mu sync.Mutex

	state               breakerState
	consecutiveFailures int
	threshold           int
	recovery            time.Duration
	openedAt            time.Time
}

// NewCircuitBreaker builds a breaker. Defaults: 5 consecutive failures
// trip it, 5 minutes to move OPEN to HALF_OPEN.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 5 * time.Minute
	}
	return &CircuitBreaker{threshold: threshold, recovery: recovery}
}

// Allow reports whether a new execution may proceed. While OPEN it fails
// fast with ErrBreakerOpen unless enough time has elapsed, in which case
// it transitions to HALF_OPEN and allows exactly this one attempt through.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) >= b.recovery {
			b.state = stateHalfOpen
			return nil
		}
		return ErrBreakerOpen
	default:
		return nil
	}
}

// RecordSuccess resets the failure counter, closing the breaker if it was
// HALF_OPEN.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = stateClosed
}

// RecordFailure advances the failure counter; CLOSED trips to OPEN after
// threshold consecutive failures, HALF_OPEN trips back to OPEN immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.state = stateOpen
		b.openedAt = time.Now()
	default:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = stateOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns a human-readable state name, for diagnostics/doctor output.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}
