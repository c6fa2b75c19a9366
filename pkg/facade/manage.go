// SPDX-License-Identifier: Apache-2.0

package facade

import (
	"context"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/skills"
)

// manageResponse is the wire shape returned by the manage meta-tool for
// every operation (spec.md §4.1): create/get/update return the
// resulting skill, delete returns just an acknowledgement.
type manageResponse struct {
	Name          string            `json:"name"`
	Version       string            `json:"version,omitempty"`
	Description   string            `json:"description,omitempty"`
	Body          string            `json:"body,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SandboxPreset string            `json:"sandbox_preset,omitempty"`
	RiskTier      string            `json:"risk_tier,omitempty"`
	Deleted       bool              `json:"deleted,omitempty"`
}

func (s *Server) handleManage(_ context.Context, args map[string]any) (any, error) {
	op := stringArg(args, "operation")
	name := stringArg(args, "name")

	switch op {
	case "create":
		return s.manageCreate(args, name)
	case "get":
		return s.manageGet(name)
	case "update":
		return s.manageUpdate(args, name)
	case "delete":
		return s.manageDelete(name)
	default:
		return nil, errors.New(errors.InvalidArguments, "facade: manage operation must be create, get, update, or delete", nil).
			WithContext("operation", op)
	}
}

func (s *Server) manageCreate(args map[string]any, name string) (any, error) {
	in := skills.CreateInput{
		Name:          name,
		Description:   stringArg(args, "description"),
		Body:          stringArg(args, "body"),
		License:       stringArg(args, "license"),
		Compatibility: stringArg(args, "compatibility"),
		Metadata:      stringMapArg(args, "metadata"),
		ToolPolicy:    policyArg(args, "tool_policy"),
		SandboxPreset: stringArg(args, "sandbox_preset"),
		RiskTier:      stringArg(args, "risk_tier"),
		BundledFiles:  bundledFilesArg(args, "bundled_files"),
	}
	spec, err := s.skills.Create(in)
	if err != nil {
		return nil, err
	}
	if err := s.syncRegistry(spec); err != nil {
		return nil, err
	}
	return manageResponseFrom(spec), nil
}

func (s *Server) manageGet(name string) (any, error) {
	spec, err := s.skills.Get(name)
	if err != nil {
		return nil, err
	}
	return manageResponseFrom(spec), nil
}

func (s *Server) manageUpdate(args map[string]any, name string) (any, error) {
	in := skills.UpdateInput{
		Op:          skills.EditOp(stringArg(args, "op")),
		Body:        stringArg(args, "body"),
		Description: stringArg(args, "description"),
	}
	if _, ok := args["tool_policy"]; ok {
		p := policyArg(args, "tool_policy")
		in.ToolPolicy = &p
	}
	if _, ok := args["sandbox_preset"]; ok {
		preset := stringArg(args, "sandbox_preset")
		in.SandboxPreset = &preset
	}
	if _, ok := args["risk_tier"]; ok {
		tier := stringArg(args, "risk_tier")
		in.RiskTier = &tier
	}

	spec, err := s.skills.Update(name, in)
	if err != nil {
		return nil, err
	}
	if err := s.syncRegistry(spec); err != nil {
		return nil, err
	}
	return manageResponseFrom(spec), nil
}

func (s *Server) manageDelete(name string) (any, error) {
	if err := s.skills.Delete(name); err != nil {
		return nil, err
	}
	if desc, err := s.reg.GetByFQN("skill." + name); err == nil {
		s.reg.Remove(desc.CallableID)
	}
	return manageResponse{Name: name, Deleted: true}, nil
}

// syncRegistry rebuilds and upserts the descriptor for a skill that was
// just created or updated, replacing whatever was registered under its
// previous version/digest (spec.md §3: a new digest is simply a new
// CallableID, superseding the old one under the same FQN).
func (s *Server) syncRegistry(spec skills.Spec) error {
	desc, err := SkillDescriptor(spec)
	if err != nil {
		return err
	}
	return s.reg.Upsert(desc)
}

func manageResponseFrom(spec skills.Spec) manageResponse {
	return manageResponse{
		Name:          spec.Name,
		Version:       spec.Version,
		Description:   spec.Description,
		Body:          spec.Body,
		Metadata:      spec.Metadata,
		SandboxPreset: spec.SandboxPreset,
		RiskTier:      spec.RiskTier,
	}
}

func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// bundledFilesArg parses the manage.create `bundled_files` argument
// (spec.md §4.3: `bundled_files: [(filename, content)]`, carried over
// the wire as an array of `{filename, content}` objects) into the
// scripts a new skill should be seeded with.
func bundledFilesArg(args map[string]any, key string) []skills.BundledFile {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]skills.BundledFile, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, skills.BundledFile{
			Filename: stringArg(obj, "filename"),
			Content:  stringArg(obj, "content"),
		})
	}
	return out
}

func policyArg(args map[string]any, key string) skills.Policy {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return skills.Policy{}
	}
	return skills.Policy{
		Allow:    stringSliceArg(raw, "allow"),
		Deny:     stringSliceArg(raw, "deny"),
		Required: stringSliceArg(raw, "required"),
	}
}
