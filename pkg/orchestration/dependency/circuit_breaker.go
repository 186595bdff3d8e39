// Package dependency implements resilience primitives used when calling
// external collectors, model backends, and knowledge-store indexes.
package dependency

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of Closed, Open, HalfOpen.
type CircuitState int

const (
	CircuitStateClosed CircuitState = iota
	CircuitStateOpen
	CircuitStateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitStateOpen:
		return "open"
	case CircuitStateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// minSampleSize is the minimum number of calls required before the failure
// rate is evaluated against the threshold.
const minSampleSize = 5

// CircuitBreaker trips open once a minimum sample of calls crosses a
// failure-rate threshold, and probes for recovery after a reset timeout.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold float64
	resetTimeout     time.Duration

	state       CircuitState
	total       int64
	failures    int64
	openedAt    time.Time
}

// NewCircuitBreaker creates a breaker starting in the closed state.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitStateClosed,
	}
}

func (cb *CircuitBreaker) GetName() string                  { return cb.name }
func (cb *CircuitBreaker) GetFailureThreshold() float64      { return cb.failureThreshold }
func (cb *CircuitBreaker) GetResetTimeout() time.Duration    { return cb.resetTimeout }

// GetState returns the breaker's current state, promoting Open to HalfOpen
// if the reset timeout has elapsed.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == CircuitStateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = CircuitStateHalfOpen
	}
	return cb.state
}

// GetFailureRate returns the failure rate over all recorded calls.
func (cb *CircuitBreaker) GetFailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.total == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.total)
}

// GetFailures returns the number of recorded failures since the last reset.
func (cb *CircuitBreaker) GetFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Call executes fn, rejecting it immediately if the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	state := cb.stateLocked()
	if state == CircuitStateOpen {
		cb.mu.Unlock()
		return fmt.Errorf("circuit breaker is open: %s", cb.name)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if state == CircuitStateHalfOpen {
		if err != nil {
			cb.trip()
			return err
		}
		cb.reset()
		return nil
	}

	cb.total++
	if err != nil {
		cb.failures++
	}
	if cb.total >= minSampleSize && float64(cb.failures)/float64(cb.total) >= cb.failureThreshold {
		cb.trip()
	}
	return err
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitStateOpen
	cb.openedAt = time.Now()
}

func (cb *CircuitBreaker) reset() {
	cb.state = CircuitStateClosed
	cb.total = 0
	cb.failures = 0
}
