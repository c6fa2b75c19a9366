// SPDX-License-Identifier: Apache-2.0

// Package skills discovers, validates, and mutates filesystem-backed
// skill packages (spec.md §3, §4.1): directories under a configured
// root holding a SKILL.md frontmatter document, optional bundled
// scripts, and an effective tool-policy allow/deny surface.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/labiium/skills/pkg/errors"
)

// unmarshalYAMLStrict decodes a SKILL.md frontmatter block, rejecting
// any top-level key not named in the frontmatter struct (spec.md §4.3:
// "unknown top-level fields are rejected unless a metadata map is
// used" — arbitrary caller data belongs under the metadata field).
func unmarshalYAMLStrict(fm string, v any) error {
	if strings.TrimSpace(fm) == "" {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(fm))
	dec.KnownFields(true)
	return dec.Decode(v)
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxCompatLen      = 500
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// validRiskTiers mirrors registry.RiskTier's closed set without an
// import cycle: skills is loaded well before the registry package, and
// a skill manifest's risk_tier is just data until facade.SkillDescriptor
// converts it (spec.md's risk-tier consent gate, original_source's
// storage/mod.rs:624 skill.manifest.risk_tier).
var validRiskTiers = map[string]bool{
	"read_only":     true,
	"limited_write": true,
	"write":         true,
	"destructive":   true,
	"network":       true,
}

// Spec describes one on-disk skill package, generalizing SKILL.md's
// frontmatter plus its optional legacy skill.json override into a
// single normalized shape the rest of the broker consumes.
type Spec struct {
	Name          string
	Version       string
	Description   string
	License       string
	Compatibility string
	Metadata      map[string]string
	ToolPolicy    Policy
	SandboxPreset string
	RiskTier      string
	Body          string
	Path          string
	Dir           string
}

// Policy is a skill's declared tool allow/deny/required surface,
// evaluated the same way governance.ToolFilter evaluates glob patterns
// (spec.md §4.1): deny wins over allow, an empty allow list means "any".
type Policy struct {
	Allow    []string
	Deny     []string
	Required []string
}

// Allowed reports whether fqn passes this policy.
func (p Policy) Allowed(fqn string) bool {
	if matchesAny(fqn, p.Deny) {
		return false
	}
	if len(p.Allow) > 0 && !matchesAny(fqn, p.Allow) {
		return false
	}
	return true
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if name == pattern {
			return true
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// frontmatter is the raw YAML shape of a SKILL.md header.
type frontmatter struct {
	Name          string            `yaml:"name"`
	Version       string            `yaml:"version"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
	AllowedTools  any               `yaml:"allowed-tools"`
	DeniedTools   any               `yaml:"denied-tools"`
	RequiredTools any               `yaml:"required-tools"`
	SandboxPreset string            `yaml:"sandbox_preset"`
	RiskTier      string            `yaml:"risk_tier"`
}

// legacyOverride is the optional skill.json shape (spec.md §3): fields
// present here take precedence over the SKILL.md frontmatter, letting
// an operator override policy without touching the skill's own
// document.
type legacyOverride struct {
	Version       string            `json:"version"`
	ToolPolicy    *legacyToolPolicy `json:"tool_policy"`
	SandboxPreset string            `json:"sandbox_preset"`
	RiskTier      string            `json:"risk_tier"`
}

type legacyToolPolicy struct {
	Allow    []string `json:"allow"`
	Deny     []string `json:"deny"`
	Required []string `json:"required"`
}

// LoadDir scans root for skill subdirectories (each containing a
// SKILL.md) and returns their parsed specs. Subdirectories without a
// SKILL.md are skipped; the first SKILL.md that fails to parse or
// validate stops the scan, and its error is returned.
func LoadDir(root string) ([]Spec, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.New(errors.NotFound, "skills: read skills root", err).
			WithContext("root", root)
	}
	var out []Spec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		spec, err := LoadFile(skillPath)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// LoadFile parses one SKILL.md, applying a sibling skill.json override
// when present.
func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, errors.New(errors.NotFound, "skills: read SKILL.md", err).WithContext("path", path)
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Spec{}, errors.New(errors.InvalidArguments, "skills: "+err.Error(), nil).WithContext("path", path)
	}
	var parsed frontmatter
	if err := unmarshalYAMLStrict(fm, &parsed); err != nil {
		return Spec{}, errors.New(errors.InvalidArguments, "skills: parse frontmatter", err).WithContext("path", path)
	}

	allow, err := normalizeToolList(parsed.AllowedTools)
	if err != nil {
		return Spec{}, errors.New(errors.InvalidArguments, "skills: allowed-tools: "+err.Error(), nil)
	}
	deny, err := normalizeToolList(parsed.DeniedTools)
	if err != nil {
		return Spec{}, errors.New(errors.InvalidArguments, "skills: denied-tools: "+err.Error(), nil)
	}
	required, err := normalizeToolList(parsed.RequiredTools)
	if err != nil {
		return Spec{}, errors.New(errors.InvalidArguments, "skills: required-tools: "+err.Error(), nil)
	}

	dir := filepath.Dir(path)
	spec := Spec{
		Name:          parsed.Name,
		Version:       firstNonEmpty(parsed.Version, "1.0.0"),
		Description:   parsed.Description,
		License:       parsed.License,
		Compatibility: parsed.Compatibility,
		Metadata:      parsed.Metadata,
		ToolPolicy:    Policy{Allow: allow, Deny: deny, Required: required},
		SandboxPreset: parsed.SandboxPreset,
		RiskTier:      parsed.RiskTier,
		Body:          strings.TrimSpace(body),
		Path:          path,
		Dir:           dir,
	}

	if err := applyLegacyOverride(&spec, dir); err != nil {
		return Spec{}, err
	}
	if err := Validate(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func applyLegacyOverride(spec *Spec, dir string) error {
	legacyPath := filepath.Join(dir, "skill.json")
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil // absent legacy override is the common case
	}
	var override legacyOverride
	if err := unmarshalJSONStrict(data, &override); err != nil {
		return errors.New(errors.InvalidArguments, "skills: parse skill.json", err).WithContext("path", legacyPath)
	}
	if override.Version != "" {
		spec.Version = override.Version
	}
	if override.SandboxPreset != "" {
		spec.SandboxPreset = override.SandboxPreset
	}
	if override.RiskTier != "" {
		spec.RiskTier = override.RiskTier
	}
	if override.ToolPolicy != nil {
		spec.ToolPolicy = Policy{
			Allow:    override.ToolPolicy.Allow,
			Deny:     override.ToolPolicy.Deny,
			Required: override.ToolPolicy.Required,
		}
	}
	return nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

// Validate checks the closed set of structural rules a skill must
// satisfy regardless of how it was loaded (spec.md §3, §7).
func Validate(spec Spec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New(errors.InvalidArguments, "skills: name is required", nil)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return errors.New(errors.InvalidArguments, fmt.Sprintf("skills: name exceeds %d characters", maxNameLen), nil)
	}
	if !namePattern.MatchString(name) {
		return errors.New(errors.InvalidArguments, "skills: name must match "+namePattern.String(), nil).
			WithContext("name", name)
	}
	if spec.Dir != "" {
		dirName := filepath.Base(spec.Dir)
		if dirName != name {
			return errors.New(errors.InvalidArguments, "skills: name must match directory name", nil).
				WithContext("name", name).WithContext("dir", dirName)
		}
	}
	desc := strings.TrimSpace(spec.Description)
	if desc == "" {
		return errors.New(errors.InvalidArguments, "skills: description is required", nil)
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return errors.New(errors.InvalidArguments, fmt.Sprintf("skills: description exceeds %d characters", maxDescriptionLen), nil)
	}
	if compat := strings.TrimSpace(spec.Compatibility); compat != "" && utf8.RuneCountInString(compat) > maxCompatLen {
		return errors.New(errors.InvalidArguments, fmt.Sprintf("skills: compatibility exceeds %d characters", maxCompatLen), nil)
	}
	if tier := strings.TrimSpace(spec.RiskTier); tier != "" && !validRiskTiers[tier] {
		return errors.New(errors.InvalidArguments, "skills: risk_tier must be one of read_only, limited_write, write, destructive, network", nil).
			WithContext("risk_tier", spec.RiskTier)
	}
	return nil
}

func normalizeToolList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return dedupe(strings.Fields(v)), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("must be a string or list of strings")
			}
			out = append(out, strings.TrimSpace(s))
		}
		return dedupe(out), nil
	case []string:
		return dedupe(v), nil
	default:
		return nil, fmt.Errorf("must be a string or list of strings")
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
