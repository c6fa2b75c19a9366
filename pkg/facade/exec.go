// SPDX-License-Identifier: Apache-2.0

package facade

import (
	"context"

	"github.com/labiium/skills/pkg/execengine"
)

// execResponse is the wire shape returned by the exec meta-tool
// (spec.md §4.4/§4.6): callers see the route taken, the final status,
// and either a value or an error kind/text, never both populated.
type execResponse struct {
	CallableID string         `json:"callable_id"`
	FQN        string         `json:"fqn"`
	Route      string         `json:"route"`
	DryRun     bool           `json:"dry_run"`
	Status     string         `json:"status"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Value      any            `json:"value,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ErrorText  string         `json:"error_text,omitempty"`
	Steps      []string       `json:"steps,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

func (s *Server) handleExec(ctx context.Context, args map[string]any) (any, error) {
	req := execengine.Request{
		CallableID:    stringArg(args, "callable_id"),
		Arguments:     mapArg(args, "arguments"),
		TimeoutMs:     intPtrArg(args, "timeout_ms"),
		DryRun:        boolArg(args, "dry_run"),
		Consent:       stringArg(args, "consent"),
		IncludeTiming: boolArg(args, "include_timing"),
		IncludeSteps:  boolArg(args, "include_steps"),
	}

	result, err := s.engine.Exec(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := execResponse{
		CallableID: result.CallableID,
		FQN:        result.FQN,
		Route:      string(result.Route),
		DryRun:     result.DryRun,
		Status:     string(result.Status),
		Arguments:  result.Arguments,
		Value:      result.Value,
		ErrorKind:  string(result.ErrorKind),
		ErrorText:  result.ErrorText,
	}
	if req.IncludeSteps {
		resp.Steps = result.Steps
	}
	if req.IncludeTiming {
		resp.DurationMs = result.DurationMs
	}
	return resp, nil
}
