// SPDX-License-Identifier: Apache-2.0

// Package persistence provides the broker's narrow put/get/list/prune
// contract over Execution Records (spec.md §4.4, §6): every exec
// dispatched through the Execution Engine is written here regardless of
// outcome, and a failure to persist never fails the call itself — it is
// logged as a warning and is not returned to the caller.
package persistence

import (
	"context"
	"time"
)

// Status is the closed set of terminal states an Execution Record can
// carry.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDryRun    Status = "dry_run"
)

// Record is one persisted exec attempt.
type Record struct {
	ID          string
	CallableID  string
	FQN         string
	Kind        string // "tool-from-peer" or "skill"
	Arguments   string // JSON, the arguments as the caller supplied them
	Status      Status
	ResultJSON  string // JSON, empty on failure
	ErrorKind   string
	ErrorText   string
	ConsentedBy string
	StartedAt   time.Time
	FinishedAt  time.Time
	DurationMs  int64
}

// Filter narrows a List call.
type Filter struct {
	CallableID string
	FQN        string
	Status     Status
	Since      time.Time
	Limit      int
}

// Store is the narrow persistence contract every backend must satisfy.
// It is intentionally smaller than a general repository: the broker
// only ever needs to append, look one record up, list by filter, and
// prune by age.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
