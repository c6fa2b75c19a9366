// SPDX-License-Identifier: Apache-2.0

package execengine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/sandbox"
	"github.com/labiium/skills/pkg/skills"
)

func newSandboxedSkillDescriptor(t *testing.T, skillsStore *skills.Store, scriptBody string) *registry.Descriptor {
	t.Helper()
	spec, err := skillsStore.Create(skills.CreateInput{
		Name:          "greeter",
		Description:   "says hi",
		Body:          "Say hi warmly.",
		SandboxPreset: "development",
	})
	if err != nil {
		t.Fatalf("create skill: %v", err)
	}
	scriptsDir := filepath.Join(spec.Dir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatalf("mkdir scripts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(scriptsDir, "run.sh"), []byte(scriptBody), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	entrypoints := skills.DiscoverEntrypoints(spec)
	if len(entrypoints) != 1 {
		t.Fatalf("entrypoints = %d, want 1", len(entrypoints))
	}

	schema := &registry.Schema{Type: "object", Raw: map[string]any{"type": "object"}}
	digest, err := registry.CanonicalSchemaDigest(schema, spec.Version)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return &registry.Descriptor{
		Kind:          registry.KindSkill,
		Name:          spec.Name,
		FQN:           "skill." + spec.Name,
		Version:       spec.Version,
		SchemaDigest:  digest,
		CallableID:    registry.SkillCallableID(spec.Name, spec.Version, digest),
		InputSchema:   schema,
		RiskTier:      registry.RiskReadOnly,
		SandboxPolicy: "development",
		Source:        registry.SourceLocator{SkillRoot: spec.Dir},
		BundledEntrypoints: []registry.Entrypoint{
			{Filename: entrypoints[0].Filename, Interpreter: entrypoints[0].Interpreter, Kind: entrypoints[0].Kind},
		},
	}
}

func newSandboxedTestEngine(t *testing.T, desc *registry.Descriptor, skillsStore *skills.Store) *Engine {
	t.Helper()
	reg := registry.New()
	if err := reg.Upsert(desc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return New(reg, &fakeStore{}, nil, sandbox.NewRegistry(sandbox.Config{}), skillsStore, nil)
}

func TestExecSkill_SandboxedEntrypointReceivesSkillArgsJSON(t *testing.T) {
	skillsStore, err := skills.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	desc := newSandboxedSkillDescriptor(t, skillsStore, "#!/bin/bash\nprintf '%s' \"$SKILL_ARGS_JSON\"\n")
	engine := newSandboxedTestEngine(t, desc, skillsStore)

	result, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"who": "Ada"},
		TimeoutMs:  intPtr(5000),
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	value, ok := result.Value.(map[string]any)
	if !ok || value["who"] != "Ada" {
		t.Fatalf("value = %+v, want the echoed SKILL_ARGS_JSON payload", result.Value)
	}
}

func TestExecSkill_OversizedArgumentsUseSkillArgsFile(t *testing.T) {
	skillsStore, err := skills.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	desc := newSandboxedSkillDescriptor(t, skillsStore, "#!/bin/bash\ncat \"$SKILL_ARGS_FILE\"\n")
	engine := newSandboxedTestEngine(t, desc, skillsStore)

	huge := strings.Repeat("a", 40*1024)
	result, err := engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{"blob": huge},
		TimeoutMs:  intPtr(5000),
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	value, ok := result.Value.(map[string]any)
	if !ok || value["blob"] != huge {
		t.Fatalf("value did not round-trip through SKILL_ARGS_FILE")
	}
}

func TestExecSkill_ZeroTimeoutRejectedBeforeSandboxRuns(t *testing.T) {
	skillsStore, err := skills.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	desc := newSandboxedSkillDescriptor(t, skillsStore, "#!/bin/bash\ntouch ran.marker\n")
	engine := newSandboxedTestEngine(t, desc, skillsStore)

	_, err = engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{},
		TimeoutMs:  intPtr(0),
	})
	if errors.KindOf(err) != errors.Timeout {
		t.Fatalf("kind = %v, want Timeout", errors.KindOf(err))
	}
	if _, statErr := os.Stat(filepath.Join(desc.Source.SkillRoot, "ran.marker")); statErr == nil {
		t.Fatalf("sandboxed script ran despite a zero timeout")
	}
}

func TestExecSkill_OmittedTimeoutFallsBackToDefaultTimeout(t *testing.T) {
	skillsStore, err := skills.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("skills store: %v", err)
	}
	desc := newSandboxedSkillDescriptor(t, skillsStore, "#!/bin/bash\ntouch ran.marker\n")
	engine := newSandboxedTestEngine(t, desc, skillsStore)

	_, err = engine.Exec(context.Background(), Request{
		CallableID: desc.CallableID,
		Arguments:  map[string]any{},
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(desc.Source.SkillRoot, "ran.marker")); statErr != nil {
		t.Fatalf("sandboxed script did not run with an omitted timeout: %v", statErr)
	}
}

func intPtr(n int) *int { return &n }
