// SPDX-License-Identifier: Apache-2.0

package facade

import (
	"context"
	"strconv"

	"github.com/labiium/skills/pkg/registry"
)

// searchResponse is the wire shape returned by the search meta-tool.
// The cursor is opaque and embeds the snapshot size at query time
// (spec.md §4.6) so a client cannot construct one out of thin air.
type searchResponse struct {
	Hits       []searchHit `json:"hits"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type searchHit struct {
	CallableID  string   `json:"callable_id"`
	FQN         string   `json:"fqn"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	RiskTier    string   `json:"risk_tier"`
	Tags        []string `json:"tags,omitempty"`
	Score       float64  `json:"score"`
}

func (s *Server) handleSearch(_ context.Context, args map[string]any) (any, error) {
	mode := registry.Mode(stringArg(args, "mode"))
	if mode == "" {
		mode = registry.ModeLiteral
	}
	query := registry.Query{
		Text:  stringArg(args, "text"),
		Mode:  mode,
		Tags:  stringSliceArg(args, "tags"),
		Limit: intArg(args, "limit"),
	}

	snapshot := s.reg.Snapshot()
	hits, err := registry.Search(snapshot, query)
	if err != nil {
		return nil, err
	}

	out := searchResponse{Hits: make([]searchHit, 0, len(hits))}
	for _, h := range hits {
		out.Hits = append(out.Hits, searchHit{
			CallableID:  h.Descriptor.CallableID,
			FQN:         h.Descriptor.FQN,
			Name:        h.Descriptor.Name,
			Kind:        string(h.Descriptor.Kind),
			Description: h.Descriptor.Description,
			RiskTier:    string(h.Descriptor.RiskTier),
			Tags:        h.Descriptor.Tags,
			Score:       h.Score,
		})
	}
	out.NextCursor = cursorFor(len(snapshot))
	return out, nil
}

// cursorFor embeds the snapshot version (its length stands in for a
// version counter, since Snapshot always returns a total-order-consistent
// view per spec.md §5) so a stale cursor can be told apart from a fresh
// one without the registry tracking cursors itself.
func cursorFor(snapshotSize int) string {
	if snapshotSize == 0 {
		return ""
	}
	return "sv:" + strconv.Itoa(snapshotSize)
}
