// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/labiium/skills/pkg/errors"
)

func mustDescriptor(t *testing.T, name, fqn, alias string) *Descriptor {
	t.Helper()
	schema := &Schema{Type: "object", Raw: map[string]any{"type": "object"}}
	digest, err := CanonicalSchemaDigest(schema, "1.0.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return &Descriptor{
		Kind:         KindTool,
		Name:         name,
		FQN:          fqn,
		Version:      "1.0.0",
		SchemaDigest: digest,
		CallableID:   ToolCallableID(alias, name, digest),
		InputSchema:  schema,
		Description:  "does the " + name + " thing",
		RiskTier:     RiskReadOnly,
		Source:       SourceLocator{PeerAlias: alias, PeerLocalName: name},
	}
}

func TestRegistry_UpsertGetRoundTrip(t *testing.T) {
	r := New()
	d := mustDescriptor(t, "list_files", "srv-a.list_files", "srv-a")
	if err := r.Upsert(d); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Get(d.CallableID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FQN != d.FQN {
		t.Errorf("fqn = %q, want %q", got.FQN, d.FQN)
	}

	byFQN, err := r.GetByFQN(d.FQN)
	if err != nil {
		t.Fatalf("get by fqn: %v", err)
	}
	if byFQN.CallableID != d.CallableID {
		t.Errorf("callable id = %q, want %q", byFQN.CallableID, d.CallableID)
	}
}

func TestRegistry_GetUnknownIsNotFound(t *testing.T) {
	r := New()
	if _, err := r.Get("tool:srv:x::y::sd:z"); errors.KindOf(err) != errors.NotFound {
		t.Errorf("kind = %v, want NotFound", errors.KindOf(err))
	}
}

func TestRegistry_CheckStaleAfterSupersede(t *testing.T) {
	r := New()
	d1 := mustDescriptor(t, "run", "srv-a.run", "srv-a")
	if err := r.Upsert(d1); err != nil {
		t.Fatalf("upsert d1: %v", err)
	}

	// A reconnect re-enumerates the tool with a new schema digest under
	// the same FQN; the old callable id must now read as stale.
	d2 := *d1
	d2.SchemaDigest = "different-digest"
	d2.CallableID = ToolCallableID("srv-a", "run", "different-digest")
	if err := r.Upsert(&d2); err != nil {
		t.Fatalf("upsert d2: %v", err)
	}

	if err := r.CheckStale(d1.CallableID); errors.KindOf(err) != errors.StaleID {
		t.Errorf("old id kind = %v, want StaleID", errors.KindOf(err))
	}
	if err := r.CheckStale(d2.CallableID); err != nil {
		t.Errorf("new id should not be stale: %v", err)
	}
}

func TestRegistry_RemovePeerDropsOnlyThatPeer(t *testing.T) {
	r := New()
	a := mustDescriptor(t, "a", "srv-a.a", "srv-a")
	b := mustDescriptor(t, "b", "srv-b.b", "srv-b")
	if err := r.Upsert(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(b); err != nil {
		t.Fatal(err)
	}

	removed := r.RemovePeer("srv-a")
	if len(removed) != 1 || removed[0].FQN != "srv-a.a" {
		t.Fatalf("removed = %+v, want just srv-a.a", removed)
	}
	if _, err := r.Get(a.CallableID); errors.KindOf(err) != errors.NotFound {
		t.Errorf("srv-a.a should be gone")
	}
	if _, err := r.Get(b.CallableID); err != nil {
		t.Errorf("srv-b.b should remain: %v", err)
	}
}

func TestRegistry_SnapshotIsSortedAndIsolated(t *testing.T) {
	r := New()
	if err := r.Upsert(mustDescriptor(t, "zebra", "srv.zebra", "srv")); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(mustDescriptor(t, "apple", "srv.apple", "srv")); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].FQN != "srv.apple" || snap[1].FQN != "srv.zebra" {
		t.Fatalf("snapshot not sorted by fqn: %+v", snap)
	}

	if err := r.Upsert(mustDescriptor(t, "mango", "srv.mango", "srv")); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Errorf("earlier snapshot mutated after later write, len = %d", len(snap))
	}
}

func TestSearch_LiteralExactNameRanksAboveSubstring(t *testing.T) {
	descs := []*Descriptor{
		mustDescriptor(t, "read", "srv.read", "srv"),
		mustDescriptor(t, "read_file", "srv.read_file", "srv"),
	}
	hits, err := Search(descs, Query{Text: "read", Mode: ModeLiteral})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 || hits[0].Descriptor.Name != "read" {
		t.Fatalf("hits = %+v, want exact match first", hits)
	}
}

func TestSearch_RegexInvalidPatternIsBadQuery(t *testing.T) {
	_, err := Search(nil, Query{Text: "(unclosed", Mode: ModeRegex})
	if errors.KindOf(err) != errors.BadQuery {
		t.Errorf("kind = %v, want BadQuery", errors.KindOf(err))
	}
}

func TestSearch_LimitIsBoundedAndPositive(t *testing.T) {
	descs := make([]*Descriptor, 0, 10)
	for i := 0; i < 10; i++ {
		name := string(rune('a' + i))
		descs = append(descs, mustDescriptor(t, name, "srv."+name, "srv"))
	}
	hits, err := Search(descs, Query{Text: "", Mode: ModeLiteral, Limit: 3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("len(hits) = %d, want 3", len(hits))
	}

	hits, err = Search(descs, Query{Text: "", Mode: ModeLiteral, Limit: 10000})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != len(descs) {
		t.Fatalf("len(hits) = %d, want %d", len(hits), len(descs))
	}
}

func TestSearch_FuzzyMatchesCloseTypos(t *testing.T) {
	descs := []*Descriptor{mustDescriptor(t, "list_files", "srv.list_files", "srv")}
	hits, err := Search(descs, Query{Text: "list_fles", Mode: ModeFuzzy})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected a fuzzy hit for a one-character typo, got %d", len(hits))
	}
}

func TestSearch_TagFilterRequiresAllTags(t *testing.T) {
	a := mustDescriptor(t, "a", "srv.a", "srv")
	a.Tags = []string{"fs", "read"}
	b := mustDescriptor(t, "b", "srv.b", "srv")
	b.Tags = []string{"fs"}

	hits, err := Search([]*Descriptor{a, b}, Query{Mode: ModeLiteral, Tags: []string{"fs", "read"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Descriptor.Name != "a" {
		t.Fatalf("hits = %+v, want only descriptor a", hits)
	}
}
