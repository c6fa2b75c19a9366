// SPDX-License-Identifier: Apache-2.0

package facade

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/registry"
)

// schemaResponse is the wire shape returned by the schema meta-tool
// (spec.md §4.6). Exactly which fields are populated depends on the
// requested view.
type schemaResponse struct {
	CallableID    string           `json:"callable_id"`
	FQN           string           `json:"fqn"`
	InputSchema   json.RawMessage  `json:"input_schema,omitempty"`
	OutputSchema  json.RawMessage  `json:"output_schema"` // explicit null when absent
	Signature     *registry.Signature `json:"signature,omitempty"`
	Truncated     bool             `json:"truncated,omitempty"`
}

func (s *Server) handleSchema(_ context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "callable_id")
	desc, err := s.reg.Get(id)
	if err != nil {
		return nil, err
	}

	view := stringArg(args, "view")
	if view == "" {
		view = "both"
	}
	if view != "json_schema" && view != "signature" && view != "both" {
		return nil, errors.New(errors.InvalidArguments, "facade: schema view must be json_schema, signature, or both", nil).
			WithContext("view", view)
	}
	includeOutput := boolArg(args, "include_output_schema")
	pointer := stringArg(args, "json_pointer")
	maxBytes := intArg(args, "max_bytes")

	resp := schemaResponse{CallableID: desc.CallableID, FQN: desc.FQN, OutputSchema: nullJSON()}

	if view == "json_schema" || view == "both" {
		raw, err := narrowSchema(desc.InputSchema, pointer)
		if err != nil {
			return nil, err
		}
		resp.InputSchema = raw
	}
	if view == "signature" || view == "both" {
		sig := desc.Signature
		resp.Signature = &sig
	}
	if includeOutput && desc.OutputSchema != nil {
		raw, err := json.Marshal(desc.OutputSchema.Raw)
		if err != nil {
			return nil, errors.New(errors.Internal, "facade: marshal output schema", err)
		}
		resp.OutputSchema = raw
	}

	if maxBytes > 0 {
		return truncate(resp, maxBytes)
	}
	return resp, nil
}

func nullJSON() json.RawMessage {
	return json.RawMessage("null")
}

// narrowSchema returns schema.Raw, optionally narrowed to the subtree
// named by a JSON Pointer (RFC 6901; spec.md §4.6's "optional JSON
// pointer narrows the returned subtree").
func narrowSchema(schema *registry.Schema, pointer string) (json.RawMessage, error) {
	var raw any
	if schema != nil {
		raw = schema.Raw
	}
	if pointer == "" || pointer == "/" {
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, errors.New(errors.Internal, "facade: marshal input schema", err)
		}
		return payload, nil
	}
	node, err := resolvePointer(raw, pointer)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(node)
	if err != nil {
		return nil, errors.New(errors.Internal, "facade: marshal schema subtree", err)
	}
	return payload, nil
}

func resolvePointer(root any, pointer string) (any, error) {
	if !strings.HasPrefix(pointer, "/") {
		return nil, errors.New(errors.InvalidArguments, "facade: json_pointer must start with '/'", nil).WithContext("json_pointer", pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	node := root
	for _, tok := range tokens {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, errors.New(errors.InvalidArguments, "facade: json_pointer references an unknown field", nil).WithContext("json_pointer", pointer)
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, errors.New(errors.InvalidArguments, "facade: json_pointer index out of range", nil).WithContext("json_pointer", pointer)
			}
			node = v[idx]
		default:
			return nil, errors.New(errors.InvalidArguments, "facade: json_pointer descends into a scalar", nil).WithContext("json_pointer", pointer)
		}
	}
	return node, nil
}

// truncate bounds the marshaled response to maxBytes, replacing the
// input schema with an explicit truncation marker when it doesn't fit
// rather than emitting invalid JSON by cutting mid-document.
func truncate(resp schemaResponse, maxBytes int) (any, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.New(errors.Internal, "facade: marshal schema response", err)
	}
	if len(payload) <= maxBytes {
		return resp, nil
	}
	resp.InputSchema = json.RawMessage(`{"truncated":true}`)
	resp.Truncated = true
	return resp, nil
}
