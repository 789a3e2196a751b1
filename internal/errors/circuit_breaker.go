package errors

import (
	"errors"
	"sync"
	"time"
)

const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

// BreakerState is the circuit breaker lifecycle state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

var (
	// ErrCircuitOpen is returned while the breaker refuses calls.
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	errHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

// CircuitBreaker guards a flaky dependency (the notifier, an external rail)
// so its outages cannot stall the request path.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		state: BreakerClosed,
	}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	if cb.state == BreakerOpen {
		if time.Since(cb.lastFailureTime) >= TimeoutDuration {
			cb.transitionToHalfOpenLocked()
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	if cb.state == BreakerHalfOpen && cb.requests >= HalfOpenMaxRequests {
		cb.mu.Unlock()
		return errHalfOpenTooManyRequests
	}
	cb.mu.Unlock()

	callErr := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		cb.failures++
		cb.requests++

		if cb.state == BreakerHalfOpen {
			cb.tripToOpenLocked()
		} else {
			cb.evaluateStateLocked()
		}

		return callErr
	}

	cb.successes++
	cb.requests++

	if cb.state == BreakerHalfOpen && cb.successes >= HalfOpenMaxRequests {
		cb.state = BreakerClosed
		cb.resetCountersLocked()
		return nil
	}

	return nil
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) evaluateStateLocked() {
	if cb.requests < MinRequests {
		return
	}

	errorRate := float64(cb.failures) / float64(cb.requests)
	if errorRate >= ErrorThreshold {
		cb.tripToOpenLocked()
	}
}

func (cb *CircuitBreaker) resetCountersLocked() {
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
}

func (cb *CircuitBreaker) transitionToHalfOpenLocked() {
	cb.state = BreakerHalfOpen
	cb.resetCountersLocked()
}

func (cb *CircuitBreaker) tripToOpenLocked() {
	cb.state = BreakerOpen
	cb.lastFailureTime = time.Now()
	cb.resetCountersLocked()
}
