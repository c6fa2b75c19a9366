// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Sandbox.TimeoutMs != 30000 {
		t.Errorf("sandbox.timeout_ms = %d, want 30000", cfg.Sandbox.TimeoutMs)
	}
	if !cfg.Persistence.Enabled {
		t.Errorf("persistence.enabled = false, want true by default")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
paths:
  skills_root: /tmp/skills
upstreams:
  - alias: srv-a
    transport: stdio
    command: srv-a-binary
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
	if len(cfg.Upstreams) != 1 || cfg.Upstreams[0].Alias != "srv-a" {
		t.Fatalf("upstreams = %+v", cfg.Upstreams)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("BROKER_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %q, want error (env override)", cfg.Log.Level)
	}
}

func TestValidate_RejectsMissingSkillsRoot(t *testing.T) {
	cfg := &Config{}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing skills_root")
	}
}

func TestValidate_RejectsDuplicateUpstreamAlias(t *testing.T) {
	cfg := &Config{
		Paths: PathsConfig{SkillsRoot: "./skills"},
		Upstreams: []UpstreamConfig{
			{Alias: "srv-a", Transport: "stdio", Command: "a"},
			{Alias: "srv-a", Transport: "stdio", Command: "b"},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate alias")
	}
}

func TestValidate_RejectsStdioUpstreamMissingCommand(t *testing.T) {
	cfg := &Config{
		Paths:     PathsConfig{SkillsRoot: "./skills"},
		Upstreams: []UpstreamConfig{{Alias: "srv-a", Transport: "stdio"}},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for stdio upstream missing command")
	}
}

func TestValidate_RejectsHTTPUpstreamMissingURL(t *testing.T) {
	cfg := &Config{
		Paths:     PathsConfig{SkillsRoot: "./skills"},
		Upstreams: []UpstreamConfig{{Alias: "srv-a", Transport: "http"}},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for http upstream missing url")
	}
}

func TestValidate_RejectsUnsupportedTransport(t *testing.T) {
	cfg := &Config{
		Paths:     PathsConfig{SkillsRoot: "./skills"},
		Upstreams: []UpstreamConfig{{Alias: "srv-a", Transport: "carrier-pigeon"}},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unsupported transport")
	}
}

func TestMergeOverlay_AppendsGlobalUpstreamsBeforeProjectOnes(t *testing.T) {
	global := Config{Upstreams: []UpstreamConfig{{Alias: "global-a"}}}
	project := Config{Upstreams: []UpstreamConfig{{Alias: "project-a"}}}

	merged := mergeOverlay(global, project)
	if len(merged.Upstreams) != 2 || merged.Upstreams[0].Alias != "global-a" || merged.Upstreams[1].Alias != "project-a" {
		t.Fatalf("merged upstreams = %+v", merged.Upstreams)
	}
}
