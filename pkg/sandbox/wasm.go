// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"

	"github.com/labiium/skills/pkg/errors"
)

// wasmBackend backs the "wasm" preset. No WASM runtime library appears
// anywhere in the example corpus this broker was grounded on, and
// spec.md §4.5 explicitly sanctions refusing a preset outright over
// silently downgrading it to a weaker one. Every call this backend
// receives fails closed with SandboxUnavailable so a caller can react
// (fall back to a different preset, surface the gap to an operator)
// instead of unknowingly running unsandboxed WASM-targeted code.
type wasmBackend struct{}

// NewWASMBackend builds the always-unavailable wasm backend.
func NewWASMBackend() Backend {
	return &wasmBackend{}
}

func (b *wasmBackend) Name() string { return "wasm" }

func (b *wasmBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: no wasm runtime configured", nil).
		WithContext("command", spec.Command)
}
