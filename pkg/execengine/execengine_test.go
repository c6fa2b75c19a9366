// SPDX-License-Identifier: Apache-2.0

package execengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/persistence"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/skills"
)

type fakeStore struct {
	mu      sync.Mutex
	records []persistence.Record
}

func (f *fakeStore) Put(_ context.Context, rec persistence.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}
func (f *fakeStore) Get(_ context.Context, id string) (persistence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return persistence.Record{}, errors.New(errors.NotFound, "not found", nil)
}
func (f *fakeStore) List(_ context.Context, _ persistence.Filter) ([]persistence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistence.Record(nil), f.records...), nil
}
func (f *fakeStore) Prune(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Close() error                                       { return nil }

func toolDescriptor(t *testing.T, requiresConsent bool) *registry.Descriptor {
	t.Helper()
	tier := registry.RiskReadOnly
	if requiresConsent {
		tier = registry.RiskDestructive
	}
	schema := &registry.Schema{
		Type: "object",
		Properties: map[string]*registry.Schema{
			"path":  {Type: "string"},
			"limit": {Type: "integer", Default: float64(10)},
		},
		Required: []string{"path"},
		Raw: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}, "limit": map[string]any{"type": "integer"}},
			"required":   []any{"path"},
		},
	}
	digest, err := registry.CanonicalSchemaDigest(schema, "1.0.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return &registry.Descriptor{
		Kind:         registry.KindTool,
		Name:         "read_file",
		FQN:          "srv-a.read_file",
		Version:      "1.0.0",
		SchemaDigest: digest,
		CallableID:   registry.ToolCallableID("srv-a", "read_file", digest),
		InputSchema:  schema,
		RiskTier:     tier,
		Source:       registry.SourceLocator{PeerAlias: "srv-a", PeerLocalName: "read_file"},
	}
}

func newTestEngine(t *testing.T, descs ...*registry.Descriptor) (*Engine, *fakeStore) {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		if err := reg.Upsert(d); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	store := &fakeStore{}
	skillsStore, err := skills.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	return New(reg, store, nil, nil, skillsStore, nil), store
}

func TestExec_UnknownCallableIsNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Exec(context.Background(), Request{CallableID: "tool:srv:x::y::sd:z"})
	if errors.KindOf(err) != errors.NotFound {
		t.Fatalf("kind = %v, want NotFound", errors.KindOf(err))
	}
}

func TestExec_MissingRequiredArgumentIsInvalidArguments(t *testing.T) {
	desc := toolDescriptor(t, false)
	engine, _ := newTestEngine(t, desc)
	_, err := engine.Exec(context.Background(), Request{CallableID: desc.CallableID, Arguments: map[string]any{}})
	if errors.KindOf(err) != errors.InvalidArguments {
		t.Fatalf("kind = %v, want InvalidArguments", errors.KindOf(err))
	}
}

func TestExec_DefaultsAreFilledForOmittedOptionals(t *testing.T) {
	desc := toolDescriptor(t, false)
	engine, _ := newTestEngine(t, desc)
	result, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"path": "/tmp/x"},
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if result.Arguments["limit"] != float64(10) {
		t.Errorf("limit default not filled: %+v", result.Arguments)
	}
}

func TestExec_RiskTierWithoutConsentIsConsentRequired(t *testing.T) {
	desc := toolDescriptor(t, true)
	engine, _ := newTestEngine(t, desc)
	_, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"path": "/tmp/x"},
	})
	if errors.KindOf(err) != errors.ConsentRequired {
		t.Fatalf("kind = %v, want ConsentRequired", errors.KindOf(err))
	}
}

func TestExec_DryRunNeverRoutesAndReturnsRoute(t *testing.T) {
	desc := toolDescriptor(t, true)
	engine, _ := newTestEngine(t, desc)
	result, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"path": "/tmp/x"},
		Consent:    "approved",
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !result.DryRun || result.Route != RoutePeer || result.Status != persistence.StatusDryRun {
		t.Fatalf("result = %+v", result)
	}
}

func TestExec_ToolRouteWithoutMultiplexerIsPeerGone(t *testing.T) {
	desc := toolDescriptor(t, false)
	engine, _ := newTestEngine(t, desc)
	_, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"path": "/tmp/x"},
	})
	if errors.KindOf(err) != errors.PeerGone {
		t.Fatalf("kind = %v, want PeerGone", errors.KindOf(err))
	}
}

func TestExec_AlwaysPersistsARecordEvenOnFailure(t *testing.T) {
	desc := toolDescriptor(t, false)
	engine, store := newTestEngine(t, desc)
	_, _ = engine.Exec(context.Background(), Request{CallableID: desc.CallableID, Arguments: map[string]any{}})
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	if store.records[0].Status != persistence.StatusFailed {
		t.Errorf("status = %v, want failed", store.records[0].Status)
	}
}

func TestExec_PromptedSkillReturnsDocumentWithoutSandbox(t *testing.T) {
	reg := registry.New()
	skillsRoot := t.TempDir()
	skillsStore, err := skills.NewStore(skillsRoot)
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	spec, err := skillsStore.Create(skills.CreateInput{Name: "greeter", Description: "says hello", Body: "Say hello warmly."})
	if err != nil {
		t.Fatalf("create skill: %v", err)
	}

	schema := &registry.Schema{Type: "object", Raw: map[string]any{"type": "object"}}
	digest, _ := registry.CanonicalSchemaDigest(schema, spec.Version)
	desc := &registry.Descriptor{
		Kind:         registry.KindSkill,
		Name:         spec.Name,
		FQN:          "skill." + spec.Name,
		Version:      spec.Version,
		SchemaDigest: digest,
		CallableID:   registry.SkillCallableID(spec.Name, spec.Version, digest),
		InputSchema:  schema,
		RiskTier:     registry.RiskReadOnly,
		Source:       registry.SourceLocator{SkillRoot: spec.Dir},
	}
	if err := reg.Upsert(desc); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	store := &fakeStore{}
	engine := New(reg, store, nil, nil, skillsStore, nil)

	result, err := engine.Exec(context.Background(), Request{CallableID: desc.CallableID, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if result.Route != RouteSkillPrompted {
		t.Fatalf("route = %v, want RouteSkillPrompted", result.Route)
	}
	value, ok := result.Value.(map[string]any)
	if !ok || value["body"] != "Say hello warmly." {
		t.Fatalf("value = %+v", result.Value)
	}
}
