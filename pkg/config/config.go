// Copyright 2026
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the broker's configuration surface
// (spec.md §6): paths, sandbox defaults, upstream peers, the global/
// project overlay, skill-repo imports, and persistence settings.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the fully-resolved broker configuration.
type Config struct {
	Log             LogConfig              `koanf:"log"`
	Paths           PathsConfig            `koanf:"paths"`
	Sandbox         SandboxConfig          `koanf:"sandbox"`
	Upstreams       []UpstreamConfig       `koanf:"upstreams"`
	UseGlobal       UseGlobalConfig        `koanf:"use_global"`
	AgentSkillsRepos []AgentSkillsRepoConfig `koanf:"agent_skills_repos"`
	Persistence     PersistenceConfig      `koanf:"persistence"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// PathsConfig lists the broker's on-disk locations.
type PathsConfig struct {
	DataDir      string `koanf:"data_dir"`
	SkillsRoot   string `koanf:"skills_root"`
	DatabasePath string `koanf:"database_path"`
	ConfigDir    string `koanf:"config_dir"`
	CacheDir     string `koanf:"cache_dir"`
	LogsDir      string `koanf:"logs_dir"`
}

// DockerConfig configures the container-isolation sandbox backend.
type DockerConfig struct {
	Image       string `koanf:"image"`
	MemoryLimit string `koanf:"memory_limit"`
	CPUQuota    string `koanf:"cpu_quota"`
	NetworkMode string `koanf:"network_mode"`
	AutoRemove  bool   `koanf:"auto_remove"`
}

// SandboxConfig is the global sandbox default and its concrete tuning.
type SandboxConfig struct {
	Preset          string       `koanf:"preset"`
	Backend         string       `koanf:"backend"`
	TimeoutMs       int          `koanf:"timeout_ms"`
	MaxMemoryBytes  int64        `koanf:"max_memory_bytes"`
	MaxCPUSeconds   int          `koanf:"max_cpu_seconds"`
	AllowRead       []string     `koanf:"allow_read"`
	AllowWrite      []string     `koanf:"allow_write"`
	AllowNetwork    bool         `koanf:"allow_network"`
	Docker          DockerConfig `koanf:"docker"`
}

// AuthConfig describes how the broker authenticates to an HTTP peer.
type AuthConfig struct {
	Type   string `koanf:"type"` // bearer, header, none
	Env    string `koanf:"env"`
	Header string `koanf:"header"`
}

// UpstreamConfig describes one configured MCP peer.
type UpstreamConfig struct {
	Alias         string            `koanf:"alias"`
	Transport     string            `koanf:"transport"` // stdio, http
	Command       string            `koanf:"command"`
	Args          []string          `koanf:"args"`
	URL           string            `koanf:"url"`
	Env           map[string]string `koanf:"env"`
	Auth          AuthConfig        `koanf:"auth"`
	Tags          []string          `koanf:"tags"`
	SandboxConfig string            `koanf:"sandbox_config"`
	Required      bool              `koanf:"required"`
}

// UseGlobalConfig toggles the global+project config overlay.
type UseGlobalConfig struct {
	Enabled bool `koanf:"enabled"`
}

// AgentSkillsRepoConfig names a GitHub-hosted skills import source. The
// importer itself is out of scope (spec.md §1); this struct is only the
// configuration surface the broker recognizes and forwards to it.
type AgentSkillsRepoConfig struct {
	Repo   string   `koanf:"repo"`
	Skills []string `koanf:"skills"`
	GitRef string   `koanf:"git_ref"`
}

// PersistenceConfig controls the audit/registry persistence contract.
type PersistenceConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Database       string `koanf:"database"`
	PruneAfterDays int    `koanf:"prune_after_days"`
}

// Load reads configuration from an optional YAML file, then overlays
// environment variables prefixed BROKER_ (BROKER_LOG_LEVEL -> log.level).
// When use_global.enabled is true and paths.config_dir is set,
// <config_dir>/config.yaml is loaded as the global config and the
// project's upstreams are appended to (not replacing) the global ones.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := k.Load(env.Provider("BROKER_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal after env: %w", err)
	}

	if cfg.UseGlobal.Enabled && cfg.Paths.ConfigDir != "" {
		globalPath := cfg.Paths.ConfigDir + "/config.yaml"
		gk := koanf.New(".")
		setDefaults(gk)
		if err := gk.Load(file.Provider(globalPath), yaml.Parser()); err == nil {
			var global Config
			if err := gk.Unmarshal("", &global); err == nil {
				cfg = mergeOverlay(global, cfg)
			}
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("paths.data_dir", "./data")
	k.Set("paths.skills_root", "./skills")
	k.Set("paths.database_path", "./data/broker.db")
	k.Set("sandbox.preset", "standard")
	k.Set("sandbox.timeout_ms", 30000)
	k.Set("sandbox.max_memory_bytes", 512*1024*1024)
	k.Set("sandbox.allow_network", false)
	k.Set("persistence.enabled", true)
	k.Set("persistence.prune_after_days", 30)
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "BROKER_")), "_", ".")
}

// mergeOverlay applies overlay semantics: the project config's scalar
// fields win, but its upstreams are appended to the global list
// (spec.md §6, use_global).
func mergeOverlay(global, project Config) Config {
	merged := project
	merged.Upstreams = append(append([]UpstreamConfig(nil), global.Upstreams...), project.Upstreams...)
	if len(project.AgentSkillsRepos) == 0 {
		merged.AgentSkillsRepos = global.AgentSkillsRepos
	}
	return merged
}

// Validate rejects configuration this component cannot act on: an empty
// skills root, an upstream with a missing or duplicate alias, a stdio
// upstream with no command, an http upstream with no url, or an
// unsupported transport. It does not check whether the skills root
// exists or is writable, and it applies the launch-spec checks to every
// upstream, whether or not it is marked required.
func Validate(cfg *Config) error {
	if cfg.Paths.SkillsRoot == "" {
		return fmt.Errorf("config: paths.skills_root is required")
	}
	seen := make(map[string]bool, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		if strings.TrimSpace(u.Alias) == "" {
			return fmt.Errorf("config: upstream missing alias")
		}
		if seen[u.Alias] {
			return fmt.Errorf("config: duplicate upstream alias %q", u.Alias)
		}
		seen[u.Alias] = true
		switch strings.ToLower(u.Transport) {
		case "", "stdio":
			if u.Command == "" {
				return fmt.Errorf("config: upstream %q missing command", u.Alias)
			}
		case "http":
			if u.URL == "" {
				return fmt.Errorf("config: upstream %q missing url", u.Alias)
			}
		default:
			return fmt.Errorf("config: upstream %q has unsupported transport %q", u.Alias, u.Transport)
		}
	}
	return nil
}
