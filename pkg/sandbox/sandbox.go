// SPDX-License-Identifier: Apache-2.0

// Package sandbox implements the broker's isolation layer (spec.md §4.5):
// a closed set of named presets, each mapped to a concrete backend that
// actually constrains a child process's filesystem, network, and
// resource access before an Execution Engine dispatch runs it.
package sandbox

import (
	"context"
	"time"

	"github.com/labiium/skills/pkg/errors"
)

// Preset is the closed set of sandbox presets a Descriptor or config
// entry can name.
type Preset string

const (
	PresetDevelopment Preset = "development"
	PresetStandard    Preset = "standard"
	PresetStrict      Preset = "strict"
	PresetIsolated    Preset = "isolated"
	PresetNetwork     Preset = "network"
	PresetFilesystem  Preset = "filesystem"
	PresetWASM        Preset = "wasm"
	PresetNone        Preset = "none"
)

// KnownPresets lists every preset the broker recognizes, in the order
// they are documented.
var KnownPresets = []Preset{
	PresetDevelopment, PresetStandard, PresetStrict, PresetIsolated,
	PresetNetwork, PresetFilesystem, PresetWASM, PresetNone,
}

func (p Preset) valid() bool {
	for _, k := range KnownPresets {
		if k == p {
			return true
		}
	}
	return false
}

// Spec is everything a Backend needs to run one sandboxed invocation.
type Spec struct {
	Preset      Preset
	Command     string
	Args        []string
	Env         map[string]string
	WorkDir     string
	Stdin       []byte
	TimeoutMs   int
	AllowRead   []string
	AllowWrite  []string
	AllowNet    bool
	MaxMemory   int64
	MaxCPUSecs  int
}

// Outcome is what a Backend produces after a run completes or is cut
// short by its deadline.
type Outcome struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	TimedOut   bool
	DurationMs int64
}

// Backend executes one Spec under whatever isolation mechanism it
// implements, translating OS-level failures into typed broker errors.
type Backend interface {
	Run(ctx context.Context, spec Spec) (Outcome, error)
	Name() string
}

// Registry resolves a Preset to the Backend configured to serve it.
type Registry struct {
	backends map[Preset]Backend
}

// NewRegistry builds the closed preset-to-backend map (spec.md §4.5):
// development and none get the timeout-only backend (a deadline and no
// other isolation), standard, filesystem and network get rlimit-style
// restriction, strict gets Linux namespaces (unavailable outside Linux,
// never silently downgraded), isolated gets cross-platform container
// isolation, and wasm always reports SandboxUnavailable absent a WASM
// runtime.
func NewRegistry(cfg Config) *Registry {
	timeoutOnly := NewTimeoutBackend()
	restricted := NewRestrictedBackend(cfg)
	namespaced := NewNamespaceBackend(cfg)
	container := NewContainerBackend(cfg)
	wasm := NewWASMBackend()

	backends := map[Preset]Backend{
		PresetDevelopment: timeoutOnly,
		PresetStandard:    restricted,
		PresetStrict:      namespaced,
		PresetFilesystem:  restricted,
		PresetNetwork:     restricted,
		PresetIsolated:    container,
		PresetWASM:        wasm,
		PresetNone:        timeoutOnly,
	}
	return &Registry{backends: backends}
}

// Run resolves spec.Preset and dispatches to its backend.
func (r *Registry) Run(ctx context.Context, spec Spec) (Outcome, error) {
	if !spec.Preset.valid() {
		return Outcome{}, errors.New(errors.InvalidArguments, "sandbox: unknown preset", nil).
			WithContext("preset", string(spec.Preset))
	}
	backend, ok := r.backends[spec.Preset]
	if !ok || backend == nil {
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: no backend registered for preset", nil).
			WithContext("preset", string(spec.Preset))
	}
	if spec.TimeoutMs <= 0 {
		spec.TimeoutMs = 30_000
	}
	deadline := time.Duration(spec.TimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	outcome, err := backend.Run(runCtx, spec)
	outcome.DurationMs = time.Since(start).Milliseconds()
	if runCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		return outcome, errors.New(errors.Timeout, "sandbox: run exceeded deadline", runCtx.Err()).
			WithContext("preset", string(spec.Preset)).
			WithContext("timeout_ms", spec.TimeoutMs)
	}
	return outcome, err
}

// Config carries the process-wide sandbox tuning (spec.md §6), sourced
// from config.SandboxConfig.
type Config struct {
	Backend        string // reserved for future per-deployment backend tuning; preset alone selects the backend today
	MaxMemoryBytes int64
	MaxCPUSeconds  int
	AllowRead      []string
	AllowWrite     []string
	AllowNetwork   bool
	DockerImage    string
	DockerNetwork  string
	AutoRemove     bool
}
