// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/labiium/skills/pkg/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := Record{
		ID:         "exec-1",
		CallableID: "tool:srv:a::run::sd:abc",
		FQN:        "a.run",
		Kind:       "tool-from-peer",
		Status:     StatusSucceeded,
		ResultJSON: `{"ok":true}`,
		StartedAt:  now,
		FinishedAt: now.Add(50 * time.Millisecond),
		DurationMs: 50,
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FQN != rec.FQN || got.Status != rec.Status || got.ResultJSON != rec.ResultJSON {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

func TestSQLiteStore_GetMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	if errors.KindOf(err) != errors.NotFound {
		t.Errorf("kind = %v, want NotFound", errors.KindOf(err))
	}
}

func TestSQLiteStore_ListFiltersByStatusAndOrdersDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []Status{StatusSucceeded, StatusFailed, StatusSucceeded} {
		rec := Record{
			ID:         "exec-" + string(rune('a'+i)),
			CallableID: "tool:srv:a::run::sd:abc",
			FQN:        "a.run",
			Kind:       "tool-from-peer",
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	got, err := store.List(ctx, Filter{Status: StatusSucceeded})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if !got[0].StartedAt.After(got[1].StartedAt) {
		t.Errorf("expected descending order, got %v then %v", got[0].StartedAt, got[1].StartedAt)
	}
}

func TestSQLiteStore_PruneRemovesOnlyOlderRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Put(ctx, Record{ID: "old", CallableID: "c", FQN: "f", Kind: "tool-from-peer", Status: StatusSucceeded, StartedAt: old, FinishedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, Record{ID: "new", CallableID: "c", FQN: "f", Kind: "tool-from-peer", Status: StatusSucceeded, StartedAt: recent, FinishedAt: recent}); err != nil {
		t.Fatal(err)
	}

	n, err := store.Prune(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, err := store.Get(ctx, "old"); errors.KindOf(err) != errors.NotFound {
		t.Errorf("old record should be gone")
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Errorf("new record should survive: %v", err)
	}
}
