// Package circuitbreaker guards outbound webhook destinations. A host
// that keeps failing gets its deliveries short-circuited so it stops
// consuming attempts and in-flight capacity until it recovers.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker tracks failures for one destination host. After
// maxFailures consecutive failures the circuit opens and calls fail
// fast; after resetTimeout one half-open trial call probes recovery.
type CircuitBreaker struct {
	destination  string
	maxFailures  uint32
	resetTimeout time.Duration

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	probing         bool

	logger *logrus.Logger
}

// New creates a circuit breaker for the given destination host.
func New(destination string, maxFailures uint32, resetTimeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		destination:  destination,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		logger:       logger,
	}
}

// Execute runs fn unless the circuit is open. While half-open, only a
// single probe call is let through; its outcome decides whether the
// circuit closes again or re-opens.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.resetTimeout {
			return &OpenError{Destination: cb.destination}
		}
		cb.state = StateHalfOpen
		cb.probing = true
		cb.logger.WithFields(logrus.Fields{
			"destination": cb.destination,
			"state":       StateHalfOpen.String(),
		}).Info("Circuit breaker half-open, probing destination")
		return nil
	case StateHalfOpen:
		if cb.probing {
			return &OpenError{Destination: cb.destination}
		}
		cb.probing = true
		return nil
	default:
		return &OpenError{Destination: cb.destination}
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	if err == nil {
		if cb.state != StateClosed || cb.failures > 0 {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithFields(logrus.Fields{
				"destination": cb.destination,
				"state":       StateClosed.String(),
			}).Info("Circuit breaker closed after successful delivery")
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"destination": cb.destination,
				"failures":    cb.failures,
				"state":       StateOpen.String(),
			}).Warn("Circuit breaker opened for destination")
		}
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// OpenError is returned when a call is rejected by an open circuit.
type OpenError struct {
	Destination string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for destination %q", e.Destination)
}

// IsOpenError checks if an error came from an open circuit
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
