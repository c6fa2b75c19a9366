// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew_ErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(NotFound, "registry: unknown callable id", cause)
	want := "[NOT_FOUND] registry: unknown callable id: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNew_ErrorMessageWithoutCause(t *testing.T) {
	err := New(BadQuery, "search: invalid regex", nil)
	want := "[BAD_QUERY] search: invalid regex"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestUnwrap_ExposesCauseForErrorsIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(Internal, "wrapped", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not find the wrapped cause")
	}
}

func TestWithContext_Chains(t *testing.T) {
	err := New(InvalidArguments, "bad field", nil).
		WithContext("field", "path").
		WithContext("value", 42)
	if err.Context["field"] != "path" || err.Context["value"] != 42 {
		t.Errorf("context = %+v", err.Context)
	}
}

func TestWithRecoverable_SetsFlag(t *testing.T) {
	err := New(PeerGone, "peer not ready", nil).WithRecoverable(true)
	if !err.Recoverable {
		t.Errorf("Recoverable = false, want true")
	}
}

func TestAs_MatchesKindOnly(t *testing.T) {
	err := New(ConsentRequired, "needs consent", nil)
	if !As(err, ConsentRequired) {
		t.Errorf("As did not match same kind")
	}
	if As(err, PeerGone) {
		t.Errorf("As matched a different kind")
	}
	if As(errors.New("plain"), ConsentRequired) {
		t.Errorf("As matched a non-BrokerError")
	}
}

func TestKindOf_NonBrokerErrorIsInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Errorf("KindOf(plain error) != Internal")
	}
	if KindOf(New(StaleID, "stale", nil)) != StaleID {
		t.Errorf("KindOf did not round-trip the kind")
	}
}

func TestMarshalJSON_IncludesKindAndMessage(t *testing.T) {
	err := New(Conflict, "skill already exists", nil).WithContext("name", "greeter")
	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "CONFLICT" {
		t.Errorf("kind = %v, want CONFLICT", decoded["kind"])
	}
	if decoded["message"] != "[CONFLICT] skill already exists" {
		t.Errorf("message = %v", decoded["message"])
	}
}
