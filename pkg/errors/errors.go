// SPDX-License-Identifier: Apache-2.0
// Package errors provides the broker's closed set of error kinds with
// rich context for observability and typed recovery decisions.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind classifies broker errors for clients, logs, and recovery logic.
// The set is closed: every value corresponds to a §7 error kind.
type Kind string

const (
	// NotFound: no descriptor matches the given id or fqn.
	NotFound Kind = "NOT_FOUND"

	// StaleID: descriptor existed but its digest (or session generation) has changed.
	StaleID Kind = "STALE_ID"

	// InvalidArguments: schema validation failed; Context["field"] points at the offender.
	InvalidArguments Kind = "INVALID_ARGUMENTS"

	// BadQuery: search query malformed (e.g. invalid regex).
	BadQuery Kind = "BAD_QUERY"

	// PolicyViolation: required tools not satisfied by allow/deny.
	PolicyViolation Kind = "POLICY_VIOLATION"

	// ConsentRequired: risk tier demands an explicit consent token.
	ConsentRequired Kind = "CONSENT_REQUIRED"

	// PeerGone: owning peer session is not Ready.
	PeerGone Kind = "PEER_GONE"

	// Busy: a per-session inflight cap was exceeded (subkind of PeerGone).
	Busy Kind = "BUSY"

	// Timeout: deadline expired before completion.
	Timeout Kind = "TIMEOUT"

	// ExecFailed: child exited non-zero, or returned a non-JSON payload.
	ExecFailed Kind = "EXEC_FAILED"

	// SandboxUnavailable: requested backend not realizable on this host.
	SandboxUnavailable Kind = "SANDBOX_UNAVAILABLE"

	// Conflict: create of an already-existing skill.
	Conflict Kind = "CONFLICT"

	// PersistenceError: audit/registry persistence failed (non-fatal to the result).
	PersistenceError Kind = "PERSISTENCE_ERROR"

	// ProtocolError: peer violated MCP framing/response shape.
	ProtocolError Kind = "PROTOCOL_ERROR"

	// Internal: catch-all for unclassified internal failures.
	Internal Kind = "INTERNAL_ERROR"
)

// BrokerError is a typed error with rich context for observability.
// It implements error and can be inspected with errors.As.
type BrokerError struct {
	Kind        Kind
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *BrokerError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and the
// facade's error envelope.
func (e *BrokerError) MarshalJSON() ([]byte, error) {
	type Alias BrokerError
	return json.Marshal(&struct {
		Message string `json:"message"`
		Kind    string `json:"kind"`
		Err     string `json:"error,omitempty"`
		*Alias
	}{
		Message: e.Error(),
		Kind:    string(e.Kind),
		Err:     errString(e.Err),
		Alias:   (*Alias)(e),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// New creates a BrokerError with the given kind, message, and cause.
func New(kind Kind, msg string, cause error) *BrokerError {
	return &BrokerError{
		Kind:    kind,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext attaches a key-value pair to the error context. Returns
// the error for chaining.
func (e *BrokerError) WithContext(key string, value any) *BrokerError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from by a
// caller-driven retry (the broker itself never retries an exec).
func (e *BrokerError) WithRecoverable(recoverable bool) *BrokerError {
	e.Recoverable = recoverable
	return e
}

// As reports whether err is (or wraps) a BrokerError of the given kind.
func As(err error, kind Kind) bool {
	var be *BrokerError
	if !stderrors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}

// KindOf returns the Kind of err if it is a BrokerError, or Internal
// otherwise.
func KindOf(err error) Kind {
	if be, ok := err.(*BrokerError); ok {
		return be.Kind
	}
	return Internal
}
