// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/labiium/skills/pkg/errors"
)

// BreakerState mirrors the vocabulary of the peer session state
// machine's health tracking without introducing a second machine: it
// is used purely to gate the idle-window health ping (spec.md §4.2)
// from hammering a peer that just failed.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Name             string
}

// CircuitBreaker prevents a session's health-check loop from hammering
// a peer that is consistently failing.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	mu           sync.RWMutex
	state        BreakerState
	failures     int
	successes    int
	lastFailTime time.Time
}

// NewCircuitBreaker builds a CircuitBreaker with sane defaults filled in.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Call executes fn if the breaker allows it, tracking the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.checkState()
	if cb.state == StateOpen {
		return errors.New(errors.PeerGone, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithRecoverable(true)
	}

	err := fn()
	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.failures >= cb.config.FailureThreshold && cb.state == StateClosed {
			cb.state = StateOpen
			cb.failures, cb.successes = 0, 0
		}
		if cb.state == StateHalfOpen {
			cb.state = StateOpen
			cb.failures, cb.successes = 0, 0
		}
	} else if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures, cb.successes = 0, 0
		}
	} else if cb.state == StateClosed {
		cb.failures = 0
	}
	return err
}

func (cb *CircuitBreaker) checkState() {
	if cb.state == StateOpen && time.Since(cb.lastFailTime) > cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.failures, cb.successes = 0, 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures, cb.successes = 0, 0
}
