// SPDX-License-Identifier: Apache-2.0

// Package resilience provides the exponential-backoff and circuit
// breaker primitives used by the Upstream Multiplexer's reconnection
// state machine (spec.md §4.2).
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/labiium/skills/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (>= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay; this is the ceiling
	// spec.md §4.2 requires ("never less than once per minute when
	// retries are enabled" is satisfied by capping at <= 60s upstream).
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines whether an error should be retried. If
	// nil, isRecoverableDefault is used: a BrokerError is retried only
	// when its Recoverable flag is set, and any other error is retried.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff to avoid thundering herds; 0.1
	// means +/-10%.
	Jitter float64
}

// DefaultRetryConfig returns the broker's default peer reconnection
// backoff: capped at 60s per spec.md §4.2.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   0, // unbounded unless MaxAttempts (config max-attempts) is set
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      60 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// Do executes fn with retry logic, returning the last error if every
// attempt is exhausted. MaxAttempts <= 0 means retry until ctx is done.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 0; rc.MaxAttempts <= 0 || attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, rc)
			select {
			case <-ctx.Done():
				return errors.New(errors.Timeout, "context canceled during retry backoff", ctx.Err()).
					WithContext("attempt", attempt)
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !rc.IsRecoverable(err) {
			return err
		}
	}
	return lastErr
}

// NextBackoff returns the backoff duration for the given zero-based
// attempt index, exposed so the session state machine can log or bound
// its own retry loop without re-deriving the math.
func NextBackoff(attempt int, rc RetryConfig) time.Duration {
	return calculateBackoff(attempt, rc)
}

func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
	if rc.MaxDelay == 0 {
		rc.MaxDelay = 60 * time.Second
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt)))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		jitterAmount := delay.Seconds() * rc.Jitter
		jitterRange := 2 * jitterAmount * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitterRange*1e9)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*errors.BrokerError); ok {
		return be.Recoverable
	}
	return true
}
