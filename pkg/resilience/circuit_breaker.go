package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports circuit-open status with a concrete retry delay.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := e.RetryAfter
	if retryAfter < 0 {
		retryAfter = 0
	}
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, retryAfter)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

// StateChangeFunc is called outside the breaker lock after every transition.
type StateChangeFunc func(name string, from, to CircuitBreakerState)

type CircuitBreakerConfig struct {
	Name              string
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	HalfOpenMaxFlight int
	OnStateChange     StateChangeFunc
}

// CircuitBreaker stops calling a failing dependency for OpenTimeout after
// FailureThreshold consecutive failures, then lets a limited number of probes through.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig
	now func() time.Time

	state        CircuitBreakerState
	failureCount int
	successCount int
	openUntil    time.Time
	halfInFlight int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}

	return &CircuitBreaker{
		cfg:   cfg,
		now:   time.Now,
		state: CircuitClosed,
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	from, to := cb.refreshLocked()
	state := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return state
}

// Execute runs fn unless the circuit is open. Cancellation of ctx is not
// counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		cb.after(outcomeCanceled)
	case err != nil:
		cb.after(outcomeFailure)
	default:
		cb.after(outcomeSuccess)
	}
	return err
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeCanceled
)

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	from, to := cb.refreshLocked()
	var err error
	switch cb.state {
	case CircuitOpen:
		err = cb.openErrLocked()
	case CircuitHalfOpen:
		if cb.halfInFlight >= cb.cfg.HalfOpenMaxFlight {
			err = cb.openErrLocked()
		} else {
			cb.halfInFlight++
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) after(o outcome) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == CircuitHalfOpen && cb.halfInFlight > 0 {
		cb.halfInFlight--
	}

	switch o {
	case outcomeSuccess:
		if cb.state == CircuitHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.setLocked(CircuitClosed)
			}
		} else {
			cb.failureCount = 0
		}
	case outcomeFailure:
		if cb.state == CircuitHalfOpen {
			cb.setLocked(CircuitOpen)
		} else {
			cb.failureCount++
			if cb.failureCount >= cb.cfg.FailureThreshold {
				cb.setLocked(CircuitOpen)
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// refreshLocked moves an expired open circuit to half-open.
func (cb *CircuitBreaker) refreshLocked() (CircuitBreakerState, CircuitBreakerState) {
	from := cb.state
	if cb.state == CircuitOpen && !cb.now().Before(cb.openUntil) {
		cb.setLocked(CircuitHalfOpen)
	}
	return from, cb.state
}

func (cb *CircuitBreaker) setLocked(to CircuitBreakerState) {
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfInFlight = 0
	if to == CircuitOpen {
		cb.openUntil = cb.now().Add(cb.cfg.OpenTimeout)
	}
}

func (cb *CircuitBreaker) openErrLocked() error {
	remaining := cb.openUntil.Sub(cb.now())
	if remaining < 0 {
		remaining = 0
	}
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: remaining,
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
