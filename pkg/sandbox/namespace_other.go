// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

import (
	"context"

	"github.com/labiium/skills/pkg/errors"
)

// namespaceBackend is the non-Linux stand-in for the unshare(2)-based
// backend in namespace.go: the "strict" preset has no cross-platform
// equivalent, so it reports SandboxUnavailable rather than silently
// running under a weaker backend (spec.md §4.5, §8).
type namespaceBackend struct {
	cfg Config
}

// NewNamespaceBackend builds the non-Linux stub backend.
func NewNamespaceBackend(cfg Config) Backend {
	return &namespaceBackend{cfg: cfg}
}

func (b *namespaceBackend) Name() string { return "namespace" }

func (b *namespaceBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: strict preset requires Linux namespaces, unavailable on this host", nil).
		WithContext("command", spec.Command)
}
