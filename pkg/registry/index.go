// SPDX-License-Identifier: Apache-2.0

package registry

import "sort"

// snapshot is an immutable view of the registry at one point in time.
// Registry swaps the pointer under a write lock; readers only ever see
// a fully-built snapshot (spec.md §4.1, single-writer/many-reader).
type snapshot struct {
	byID   map[string]*Descriptor
	byFQN  map[string]*Descriptor
	byPeer map[string][]string // peer alias -> callable IDs
	all    []*Descriptor       // sorted by FQN for deterministic iteration
}

func newSnapshot() *snapshot {
	return &snapshot{
		byID:   make(map[string]*Descriptor),
		byFQN:  make(map[string]*Descriptor),
		byPeer: make(map[string][]string),
	}
}

// clone produces a deep-enough copy for copy-on-write mutation: the map
// headers are copied, descriptor pointers are shared (Descriptors are
// treated as immutable once stored).
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		byID:   make(map[string]*Descriptor, len(s.byID)),
		byFQN:  make(map[string]*Descriptor, len(s.byFQN)),
		byPeer: make(map[string][]string, len(s.byPeer)),
	}
	for k, v := range s.byID {
		c.byID[k] = v
	}
	for k, v := range s.byFQN {
		c.byFQN[k] = v
	}
	for k, v := range s.byPeer {
		c.byPeer[k] = append([]string(nil), v...)
	}
	c.rebuildAll()
	return c
}

func (s *snapshot) rebuildAll() {
	all := make([]*Descriptor, 0, len(s.byID))
	for _, d := range s.byID {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FQN < all[j].FQN })
	s.all = all
}

func (s *snapshot) put(d *Descriptor) {
	if old, ok := s.byID[d.CallableID]; ok && old.FQN != d.FQN {
		delete(s.byFQN, old.FQN)
	}
	s.byID[d.CallableID] = d
	s.byFQN[d.FQN] = d
	if d.Kind == KindTool {
		alias := d.Source.PeerAlias
		ids := s.byPeer[alias]
		for _, id := range ids {
			if id == d.CallableID {
				s.rebuildAll()
				return
			}
		}
		s.byPeer[alias] = append(ids, d.CallableID)
	}
	s.rebuildAll()
}

func (s *snapshot) remove(id string) (*Descriptor, bool) {
	d, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	delete(s.byFQN, d.FQN)
	if d.Kind == KindTool {
		alias := d.Source.PeerAlias
		ids := s.byPeer[alias]
		for i, existing := range ids {
			if existing == id {
				s.byPeer[alias] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	s.rebuildAll()
	return d, true
}

// removeByPeer drops every descriptor sourced from the given peer alias,
// used when a session generation is retired (spec.md §4.1 StaleId).
func (s *snapshot) removeByPeer(alias string) []*Descriptor {
	ids := append([]string(nil), s.byPeer[alias]...)
	removed := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.remove(id); ok {
			removed = append(removed, d)
		}
	}
	return removed
}
