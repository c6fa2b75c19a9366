// SPDX-License-Identifier: Apache-2.0

package facade

import (
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/skills"
)

// SkillDescriptor builds the Callable Descriptor for a skill package,
// shared by the manage meta-tool (on every create/update) and by the
// composition root's startup scan (spec.md §3: skills are content-
// addressed the same way tools are, keyed by name@version@digest).
func SkillDescriptor(spec skills.Spec) (*registry.Descriptor, error) {
	schema := skillInputSchema()
	digest, err := registry.CanonicalSchemaDigest(schema, spec.Version)
	if err != nil {
		return nil, err
	}

	var policy *registry.ToolPolicy
	if len(spec.ToolPolicy.Allow) > 0 || len(spec.ToolPolicy.Deny) > 0 || len(spec.ToolPolicy.Required) > 0 {
		policy = &registry.ToolPolicy{
			Allow:    spec.ToolPolicy.Allow,
			Deny:     spec.ToolPolicy.Deny,
			Required: spec.ToolPolicy.Required,
		}
	}

	discovered := skills.DiscoverEntrypoints(spec)
	entrypoints := make([]registry.Entrypoint, 0, len(discovered))
	for _, e := range discovered {
		entrypoints = append(entrypoints, registry.Entrypoint{
			Filename:    e.Filename,
			Interpreter: e.Interpreter,
			Kind:        e.Kind,
		})
	}

	return &registry.Descriptor{
		Kind:               registry.KindSkill,
		Name:               spec.Name,
		FQN:                "skill." + spec.Name,
		Version:            spec.Version,
		SchemaDigest:       digest,
		CallableID:         registry.SkillCallableID(spec.Name, spec.Version, digest),
		InputSchema:        schema,
		Signature:          registry.DeriveSignature(schema),
		Description:        spec.Description,
		RiskTier:           riskTierOf(spec),
		ToolPolicy:         policy,
		SandboxPolicy:      spec.SandboxPreset,
		Source:             registry.SourceLocator{SkillRoot: spec.Dir},
		BundledEntrypoints: entrypoints,
	}, nil
}

// riskTierOf maps a skill's manifest risk_tier onto the registry's
// closed RiskTier enum, defaulting to read_only for the common case of
// a manifest that declares none (spec.md §9 open question; original
// source's src/storage/mod.rs:624 reads the same manifest field).
// skills.Validate already rejects anything outside registry.RiskTier's
// closed set, so an unrecognized non-empty value here cannot occur.
func riskTierOf(spec skills.Spec) registry.RiskTier {
	if spec.RiskTier == "" {
		return registry.RiskReadOnly
	}
	return registry.RiskTier(spec.RiskTier)
}

// skillInputSchema is the fixed shape every skill callable accepts: a
// free-form argument bag interpreted by the skill's own body or
// bundled entrypoint, since skills don't declare typed parameters the
// way tools-from-peers do.
func skillInputSchema() *registry.Schema {
	return &registry.Schema{
		Type: "object",
		Raw:  map[string]any{"type": "object"},
	}
}
