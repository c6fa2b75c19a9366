// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	brokerErrors "github.com/labiium/skills/pkg/errors"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	fail := errors.New("boom")

	_ = cb.Call(context.Background(), func() error { return fail })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after one failure, want closed", cb.State())
	}
	_ = cb.Call(context.Background(), func() error { return fail })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after threshold failures, want open", cb.State())
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCallingFn(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })

	called := false
	err := cb.Call(context.Background(), func() error { called = true; return nil })
	if called {
		t.Fatalf("fn should not run while breaker is open")
	}
	if brokerErrors.KindOf(err) != brokerErrors.PeerGone {
		t.Fatalf("kind = %v, want PeerGone", brokerErrors.KindOf(err))
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond})
	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(5 * time.Millisecond)
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after one success in half-open, want half-open", cb.State())
	}
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after success threshold, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Millisecond})
	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	_ = cb.Call(context.Background(), func() error { return errors.New("still failing") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open again after half-open failure", cb.State())
	}
}

func TestCircuitBreaker_ResetForcesClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after reset, want closed", cb.State())
	}
}
