// SPDX-License-Identifier: Apache-2.0

// Package upstream is the Upstream Multiplexer (spec.md §4.2): it owns
// one Session per configured MCP peer, speaks stdio or streamable HTTP
// to it via mark3labs/mcp-go, and re-enumerates its tool catalog into
// the registry whenever the peer's generation advances.
package upstream

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the closed peer session state machine (spec.md §4.2):
// Starting -> Ready -> Degraded -> Failed -> Closed, with Degraded able
// to recover back to Ready and Failed driving a backoff-gated retry
// back to Starting.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
	StateClosed   State = "closed"
)

// transitions is the closed adjacency list every State change must obey.
var transitions = map[State][]State{
	StateStarting: {StateReady, StateFailed, StateClosed},
	StateReady:    {StateDegraded, StateFailed, StateClosed},
	StateDegraded: {StateReady, StateFailed, StateClosed},
	StateFailed:   {StateStarting, StateClosed},
	StateClosed:   {},
}

func canTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session tracks one configured peer's live connection state. A new
// Session is only ever created once per alias; reconnects bump
// generation in place so in-flight callers holding a stale
// CallableID can be told apart from current ones (spec.md §3, §4.1).
type Session struct {
	Alias     string
	Transport string // stdio or http

	mu         sync.RWMutex
	state      State
	generation uint64
	lastError  error
	lastSeen   time.Time

	inflight    sync.Map // correlation id -> chan struct{}
	inflightCap int32
	inflightN   atomic.Int32
}

// NewSession builds a Session in the Starting state at generation 1.
func NewSession(alias, transport string, inflightCap int32) *Session {
	if inflightCap <= 0 {
		inflightCap = 64
	}
	return &Session{
		Alias:       alias,
		Transport:   transport,
		state:       StateStarting,
		generation:  1,
		inflightCap: inflightCap,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns the current connection epoch.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Transition moves the session to `to`, returning false if the closed
// state machine forbids the edge (a caller bug, never a runtime
// condition worth surfacing to the user).
func (s *Session) Transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	s.lastSeen = time.Now()
	return true
}

// Reconnect transitions Failed -> Starting and bumps the generation,
// invalidating every CallableID minted under the old generation.
func (s *Session) Reconnect() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, StateStarting) {
		return s.generation, false
	}
	s.state = StateStarting
	s.generation++
	s.lastSeen = time.Now()
	return s.generation, true
}

// RecordError stores the most recent failure for diagnostics.
func (s *Session) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
	s.lastSeen = time.Now()
}

// LastError returns the most recently recorded failure, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// AcquireInflight reserves one inflight slot, reporting false if the
// per-session cap (spec.md §4.2 Busy) is already exhausted.
func (s *Session) AcquireInflight() bool {
	for {
		n := s.inflightN.Load()
		if n >= s.inflightCap {
			return false
		}
		if s.inflightN.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// ReleaseInflight frees one inflight slot.
func (s *Session) ReleaseInflight() {
	s.inflightN.Add(-1)
}

// InflightCount reports the current number of in-progress calls.
func (s *Session) InflightCount() int32 {
	return s.inflightN.Load()
}
