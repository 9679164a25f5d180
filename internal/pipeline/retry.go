package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrorCategory classifies a validator fault for retry decisions.
type ErrorCategory string

const (
	// CategoryTimeout covers deadline and cancellation faults.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryTransient covers network-style faults expected to clear on
	// their own.
	CategoryTransient ErrorCategory = "transient"
	// CategoryResource covers quota and resource-exhaustion faults.
	CategoryResource ErrorCategory = "resource"
	// CategoryInternal covers everything else, including panics recovered
	// from a check. Not retryable by default.
	CategoryInternal ErrorCategory = "internal"
)

// Categorize maps a fault to its retry category.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return CategoryInternal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "network"):
		return CategoryTransient
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many"),
		strings.Contains(msg, "resource"):
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, checks run
	BreakerOpen                         // too many failures, fail fast
	BreakerHalfOpen                     // probing for recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrBreakerOpen is returned when a validator type's circuit breaker is
// open and its checks are being skipped.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker is a per-validator-type circuit breaker. Repeated check failures
// open the circuit so a persistently broken check cannot keep consuming
// retry budget on every execution.
type Breaker struct {
	mu sync.Mutex

	state            BreakerState
	failureCount     int
	successCount     int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewBreaker creates a circuit breaker. After failureThreshold consecutive
// failures the circuit opens for openTimeout; successThreshold successes in
// half-open close it again.
func NewBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *Breaker {
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow reports whether a check may run. Returns ErrBreakerOpen while the
// circuit is open and the open timeout has not elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.openTimeout {
			b.state = BreakerHalfOpen
			b.successCount = 0
			return nil
		}
		return ErrBreakerOpen
	default:
		return ErrBreakerOpen
	}
}

// RecordSuccess records a successful check run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure records a failed check run.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// Any failure while probing reopens immediately.
		b.state = BreakerOpen
		b.successCount = 0
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
