// SPDX-License-Identifier: Apache-2.0

package execengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/registry"
)

// validatorCache compiles each descriptor's input schema at most once
// per SchemaDigest; a peer reconnect that changes the digest simply
// adds a new cache entry rather than invalidating the old one, since a
// stale digest's descriptor is unreachable via the registry anyway.
type validatorCache struct {
	mu    sync.Mutex
	byDigest map[string]*jsonschema.Schema
}

func newValidatorCache() *validatorCache {
	return &validatorCache{byDigest: make(map[string]*jsonschema.Schema)}
}

func (c *validatorCache) compile(digest string, raw map[string]any) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if schema, ok := c.byDigest[digest]; ok {
		return schema, nil
	}
	if raw == nil {
		raw = map[string]any{}
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.New(errors.Internal, "execengine: marshal schema", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(payload)
	if err != nil {
		return nil, errors.New(errors.Internal, "execengine: compile input schema", err).WithContext("digest", digest)
	}
	c.byDigest[digest] = schema
	return schema, nil
}

// validateArguments implements spec.md §4.4 step 2: fill defaults for
// omitted optionals, then validate the normalized arguments against
// the descriptor's compiled input schema.
func (e *Engine) validateArguments(desc *registry.Descriptor, args map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}
	fillDefaults(desc.InputSchema, normalized)

	if desc.InputSchema == nil {
		return normalized, nil
	}
	schema, err := e.validator.compile(desc.SchemaDigest, desc.InputSchema.Raw)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.New(errors.InvalidArguments, "execengine: marshal arguments", err)
	}
	result := schema.ValidateJSON(payload)
	if !result.IsValid() {
		return nil, errors.New(errors.InvalidArguments, "execengine: arguments failed schema validation", nil).
			WithContext("callable_id", desc.CallableID).
			WithContext("errors", fmt.Sprintf("%v", result.Errors))
	}
	return normalized, nil
}

func fillDefaults(schema *registry.Schema, args map[string]any) {
	if schema == nil {
		return
	}
	for name, prop := range schema.Properties {
		if _, present := args[name]; present {
			continue
		}
		if prop != nil && prop.Default != nil {
			args[name] = prop.Default
		}
	}
}
