// Copyright 2026
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the authoritative in-memory set of Callable
// Descriptors (spec.md §3, §4.1): tools discovered from MCP peers and
// skills discovered from disk, normalized into one addressable space.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the closed set of callable kinds.
type Kind string

const (
	KindTool  Kind = "tool-from-peer"
	KindSkill Kind = "skill"
)

// RiskTier is the closed set of risk classifications a callable carries.
type RiskTier string

const (
	RiskReadOnly     RiskTier = "read_only"
	RiskLimitedWrite RiskTier = "limited_write"
	RiskWrite        RiskTier = "write"
	RiskDestructive  RiskTier = "destructive"
	RiskNetwork      RiskTier = "network"
)

// RequiresConsent reports whether the tier requires an explicit consent
// token before Execution Engine will dispatch the call (spec.md §4.4).
func (t RiskTier) RequiresConsent() bool {
	switch t {
	case RiskWrite, RiskDestructive, RiskNetwork:
		return true
	default:
		return false
	}
}

// Schema is the JSON-Schema-shaped object descriptors carry for both
// input and output. It intentionally keeps the original JSON structure
// (via Raw) alongside a small typed projection used by the signature
// derivation and by dry-run default-filling.
type Schema struct {
	Type       string             `json:"type,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	Default    any                `json:"default,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Raw        map[string]any     `json:"-"`
}

// Parameter is one derived entry of a Signature.
type Parameter struct {
	Name       string
	Constraint string // one-line human constraint, e.g. "string, enum(a,b)"
}

// Signature is derived from InputSchema: required and optional
// parameter names with a one-line constraint each.
type Signature struct {
	Required []Parameter
	Optional []Parameter
}

// ToolPolicy is, for skills, the effective tool-permission surface
// (spec.md §3): allow/deny/required glob sets over tool FQNs.
type ToolPolicy struct {
	Allow    []string
	Deny     []string
	Required []string
}

// SourceLocator identifies where a callable actually lives.
type SourceLocator struct {
	// For tools.
	PeerAlias     string
	PeerLocalName string

	// For skills.
	SkillRoot string
}

// Entrypoint is a bundled skill script or WASM module.
type Entrypoint struct {
	Filename    string
	Interpreter string // python3, bash, node, wasm-runtime
	Kind        string // python, bash, node, wasm
}

// Descriptor is the unit every broker component trades in (spec.md §3).
type Descriptor struct {
	Kind         Kind
	Name         string
	FQN          string
	Version      string
	SchemaDigest string
	CallableID   string

	InputSchema  *Schema
	OutputSchema *Schema // nil serializes as explicit JSON null
	Signature    Signature

	Description string
	Tags        []string
	RiskTier    RiskTier

	ToolPolicy    *ToolPolicy // nil for tools
	SandboxPolicy string      // optional preset override; "" = use global default

	Source              SourceLocator
	BundledEntrypoints  []Entrypoint

	// PeerGeneration ties a tool descriptor's lifetime to the session
	// epoch it was discovered under (spec.md §3 Lifecycle).
	PeerGeneration uint64
}

// CanonicalSchemaDigest hashes the canonicalized input schema plus the
// version string, matching spec.md §3's "deterministic hash over the
// canonicalized input schema + version". encoding/json already emits
// map keys in sorted order, which is sufficient canonicalization here.
func CanonicalSchemaDigest(schema *Schema, version string) (string, error) {
	var raw map[string]any
	if schema != nil {
		raw = schema.Raw
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("registry: canonicalize schema: %w", err)
	}
	sum := sha256.Sum256(append(payload, []byte("|"+version)...))
	return hex.EncodeToString(sum[:])[:16], nil
}

// ToolCallableID builds the printable ID for a tool-from-peer callable.
func ToolCallableID(peerAlias, name, digest string) string {
	return fmt.Sprintf("tool:srv:%s::%s::sd:%s", peerAlias, name, digest)
}

// SkillCallableID builds the printable ID for a skill callable.
func SkillCallableID(name, version, digest string) string {
	return fmt.Sprintf("skill:%s@%s@%s", name, version, digest)
}

// DeriveSignature computes the Signature from an InputSchema.
func DeriveSignature(schema *Schema) Signature {
	var sig Signature
	if schema == nil {
		return sig
	}
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := schema.Properties[name]
		p := Parameter{Name: name, Constraint: constraintOf(prop)}
		if required[name] {
			sig.Required = append(sig.Required, p)
		} else {
			sig.Optional = append(sig.Optional, p)
		}
	}
	return sig
}

func constraintOf(s *Schema) string {
	if s == nil {
		return "any"
	}
	if len(s.Enum) > 0 {
		vals := make([]string, 0, len(s.Enum))
		for _, v := range s.Enum {
			vals = append(vals, fmt.Sprintf("%v", v))
		}
		return fmt.Sprintf("enum(%s)", joinComma(vals))
	}
	typ := s.Type
	if typ == "" {
		typ = "any"
	}
	if s.Default != nil {
		return fmt.Sprintf("%s, default=%v", typ, s.Default)
	}
	return typ
}

func joinComma(vals []string) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
