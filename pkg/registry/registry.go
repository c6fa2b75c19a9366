// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sync"
	"sync/atomic"

	"github.com/labiium/skills/pkg/errors"
)

// Registry is the authoritative, concurrency-safe set of Callable
// Descriptors. Writers serialize through mu; readers load an immutable
// snapshot pointer and never block (spec.md §4.1).
type Registry struct {
	mu   sync.Mutex // serializes writers only
	view atomic.Pointer[snapshot]
}

// New builds an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.view.Store(newSnapshot())
	return r
}

// Upsert inserts or replaces a descriptor. Upserting a descriptor under
// an FQN already bound to a different CallableID rebinds the FQN to the
// new descriptor; the old CallableID stays registered, and CheckStale
// then reports it as StaleID.
func (r *Registry) Upsert(d *Descriptor) error {
	if d == nil || d.CallableID == "" || d.FQN == "" {
		return errors.New(errors.InvalidArguments, "registry: descriptor missing id or fqn", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.view.Load().clone()
	next.put(d)
	r.view.Store(next)
	return nil
}

// Remove drops a descriptor by CallableID.
func (r *Registry) Remove(id string) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.view.Load().clone()
	d, ok := next.remove(id)
	if ok {
		r.view.Store(next)
	}
	return d, ok
}

// RemovePeer drops every descriptor sourced from the given peer alias,
// used on session Closed/generation-retire transitions.
func (r *Registry) RemovePeer(alias string) []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.view.Load().clone()
	removed := next.removeByPeer(alias)
	r.view.Store(next)
	return removed
}

// Get resolves a CallableID to its descriptor, or NotFound.
func (r *Registry) Get(id string) (*Descriptor, error) {
	snap := r.view.Load()
	d, ok := snap.byID[id]
	if !ok {
		return nil, errors.New(errors.NotFound, "registry: unknown callable id", nil).
			WithContext("callable_id", id)
	}
	return d, nil
}

// GetByFQN resolves the current descriptor bound to a fully-qualified
// name, or NotFound.
func (r *Registry) GetByFQN(fqn string) (*Descriptor, error) {
	snap := r.view.Load()
	d, ok := snap.byFQN[fqn]
	if !ok {
		return nil, errors.New(errors.NotFound, "registry: unknown fqn", nil).
			WithContext("fqn", fqn)
	}
	return d, nil
}

// CheckStale reports StaleId when id resolves to a descriptor whose
// SchemaDigest no longer matches the current one bound to its FQN — the
// generation the caller resolved from has since been superseded.
func (r *Registry) CheckStale(id string) error {
	snap := r.view.Load()
	stored, ok := snap.byID[id]
	if !ok {
		return errors.New(errors.StaleID, "registry: callable id no longer registered", nil).
			WithContext("callable_id", id)
	}
	current, ok := snap.byFQN[stored.FQN]
	if !ok || current.CallableID != id {
		return errors.New(errors.StaleID, "registry: callable id superseded by a newer descriptor", nil).
			WithContext("callable_id", id).
			WithContext("fqn", stored.FQN)
	}
	return nil
}

// Snapshot returns every descriptor currently registered, sorted by
// FQN, safe for the caller to range over without locking.
func (r *Registry) Snapshot() []*Descriptor {
	return r.view.Load().all
}

// ListPeer returns descriptors sourced from one peer alias.
func (r *Registry) ListPeer(alias string) []*Descriptor {
	snap := r.view.Load()
	ids := snap.byPeer[alias]
	out := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := snap.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of registered descriptors.
func (r *Registry) Count() int {
	return len(r.view.Load().all)
}
