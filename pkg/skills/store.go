// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/labiium/skills/pkg/errors"
)

// EditOp is the closed set of body-mutation strategies Update accepts,
// mirroring how the broker's manage meta-tool edits a skill's document
// without requiring the caller to resend the whole body (spec.md §4.1).
type EditOp string

const (
	EditReplaceAll EditOp = "replace_all"
	EditPrepend    EditOp = "prepend"
	EditAppend     EditOp = "append"
)

// Store is a filesystem-backed CRUD layer over skill packages rooted at
// one directory. Every file write goes through writeFileAtomic so a
// reader never observes a half-written SKILL.md.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore builds a Store rooted at dir, creating it if absent.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.New(errors.PersistenceError, "skills: create skills root", err).WithContext("root", root)
	}
	return &Store{root: root}, nil
}

// List returns every valid skill found directly under the store root.
func (s *Store) List() ([]Spec, error) {
	specs, err := LoadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return specs, nil
}

// Get loads one skill by name.
func (s *Store) Get(name string) (Spec, error) {
	path := filepath.Join(s.root, name, "SKILL.md")
	if _, err := os.Stat(path); err != nil {
		return Spec{}, errors.New(errors.NotFound, "skills: skill not found", nil).WithContext("name", name)
	}
	return LoadFile(path)
}

// BundledFile is one bundled script written under a skill's scripts/
// directory at creation time (spec.md §4.3 CRUD contract's
// `bundled_files: [(filename, content)]`).
type BundledFile struct {
	Filename string
	Content  string
}

// CreateInput is the payload for Store.Create.
type CreateInput struct {
	Name          string
	Description   string
	Body          string
	License       string
	Compatibility string
	Metadata      map[string]string
	ToolPolicy    Policy
	SandboxPreset string
	RiskTier      string
	BundledFiles  []BundledFile
}

// Create writes a brand-new skill package. It fails with Conflict if
// the skill directory already exists (spec.md §4.1 create semantics).
func (s *Store) Create(in CreateInput) (Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, in.Name)
	if _, err := os.Stat(dir); err == nil {
		return Spec{}, errors.New(errors.Conflict, "skills: skill already exists", nil).WithContext("name", in.Name)
	}

	spec := Spec{
		Name:          in.Name,
		Version:       "1.0.0",
		Description:   in.Description,
		License:       in.License,
		Compatibility: in.Compatibility,
		Metadata:      in.Metadata,
		ToolPolicy:    in.ToolPolicy,
		SandboxPreset: in.SandboxPreset,
		RiskTier:      in.RiskTier,
		Body:          in.Body,
		Dir:           dir,
		Path:          filepath.Join(dir, "SKILL.md"),
	}
	if err := Validate(spec); err != nil {
		return Spec{}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Spec{}, errors.New(errors.PersistenceError, "skills: create skill directory", err)
	}
	if err := s.writeSkillMD(spec); err != nil {
		return Spec{}, err
	}
	for _, bf := range in.BundledFiles {
		if err := s.writeBundledFile(dir, bf); err != nil {
			return Spec{}, err
		}
	}
	return spec, nil
}

// writeBundledFile writes one entrypoint script under the skill's
// scripts/ directory, executable so interpreter scripts can run
// directly under a sandbox (spec.md §4.3: "the file must be readable
// and, for interpreter scripts, executable").
func (s *Store) writeBundledFile(skillDir string, bf BundledFile) error {
	name := filepath.Base(bf.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) || name != bf.Filename {
		return errors.New(errors.InvalidArguments, "skills: bundled file name must be a bare filename", nil).
			WithContext("filename", bf.Filename)
	}
	path := filepath.Join(skillDir, "scripts", name)
	return writeFileAtomic(path, []byte(bf.Content), 0o755)
}

// UpdateInput describes a body edit and/or metadata overwrite. A zero
// Op defaults to EditReplaceAll.
type UpdateInput struct {
	Op            EditOp
	Body          string
	Description   string // empty leaves the existing description unchanged
	ToolPolicy    *Policy
	SandboxPreset *string
	RiskTier      *string
}

// Update applies one edit operation to an existing skill and rewrites
// SKILL.md atomically.
func (s *Store) Update(name string, in UpdateInput) (Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.Get(name)
	if err != nil {
		return Spec{}, err
	}

	switch in.Op {
	case "", EditReplaceAll:
		spec.Body = in.Body
	case EditPrepend:
		spec.Body = strings.TrimSpace(in.Body + "\n\n" + spec.Body)
	case EditAppend:
		spec.Body = strings.TrimSpace(spec.Body + "\n\n" + in.Body)
	default:
		return Spec{}, errors.New(errors.InvalidArguments, "skills: unknown edit op", nil).
			WithContext("op", string(in.Op))
	}
	if in.Description != "" {
		spec.Description = in.Description
	}
	if in.ToolPolicy != nil {
		spec.ToolPolicy = *in.ToolPolicy
	}
	if in.SandboxPreset != nil {
		spec.SandboxPreset = *in.SandboxPreset
	}
	if in.RiskTier != nil {
		spec.RiskTier = *in.RiskTier
	}

	if err := Validate(spec); err != nil {
		return Spec{}, err
	}
	if err := s.writeSkillMD(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Delete removes a skill package entirely.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); err != nil {
		return errors.New(errors.NotFound, "skills: skill not found", nil).WithContext("name", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.New(errors.PersistenceError, "skills: delete skill", err).WithContext("name", name)
	}
	return nil
}

// writeSkillMD serializes spec's frontmatter and body and writes it via
// a temp-file-then-rename so concurrent readers never see a partial
// document (grounded on the corpus's fsx.WriteFileAtomic pattern).
func (s *Store) writeSkillMD(spec Spec) error {
	fm := frontmatter{
		Name:          spec.Name,
		Version:       spec.Version,
		Description:   spec.Description,
		License:       spec.License,
		Compatibility: spec.Compatibility,
		Metadata:      spec.Metadata,
		SandboxPreset: spec.SandboxPreset,
		RiskTier:      spec.RiskTier,
	}
	if len(spec.ToolPolicy.Allow) > 0 {
		fm.AllowedTools = spec.ToolPolicy.Allow
	}
	if len(spec.ToolPolicy.Deny) > 0 {
		fm.DeniedTools = spec.ToolPolicy.Deny
	}
	if len(spec.ToolPolicy.Required) > 0 {
		fm.RequiredTools = spec.ToolPolicy.Required
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return errors.New(errors.Internal, "skills: marshal frontmatter", err)
	}
	content := fmt.Sprintf("---\n%s---\n\n%s\n", header, spec.Body)

	path := filepath.Join(spec.Dir, "SKILL.md")
	return writeFileAtomic(path, []byte(content), 0o644)
}

// writeFileAtomic writes content to path via a same-directory temp file
// and rename, so a crash mid-write never leaves a truncated SKILL.md.
func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.New(errors.PersistenceError, "skills: create parent directory", err)
	}

	tmp, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return errors.New(errors.PersistenceError, "skills: create temp file", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return errors.New(errors.PersistenceError, "skills: write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.New(errors.PersistenceError, "skills: sync temp file", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return errors.New(errors.PersistenceError, "skills: chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.PersistenceError, "skills: close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.New(errors.PersistenceError, "skills: rename temp file", err)
	}
	cleanup = false
	return nil
}
