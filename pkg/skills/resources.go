// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/labiium/skills/pkg/errors"
)

func unmarshalJSONStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// resourceSubdirs are the bundled-content directories progressive
// disclosure exposes on demand, mirroring the AgentSkills convention.
var resourceSubdirs = []string{"scripts", "references", "assets"}

// ListResources enumerates every bundled file under spec's recognized
// resource subdirectories, without reading their contents.
func ListResources(spec Spec) []string {
	var resources []string
	for _, subdir := range resourceSubdirs {
		dirPath := filepath.Join(spec.Dir, subdir)
		entries, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				resources = append(resources, filepath.Join(subdir, entry.Name()))
			}
		}
	}
	return resources
}

// LoadResource reads one bundled file by its resource-relative path,
// rejecting any path that would escape the skill's own directory.
func LoadResource(spec Spec, resourcePath string) ([]byte, error) {
	if resourcePath == "" {
		return nil, errors.New(errors.InvalidArguments, "skills: resource path is required", nil)
	}
	clean := filepath.Clean(resourcePath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, errors.New(errors.InvalidArguments, "skills: invalid resource path", nil).
			WithContext("resource", resourcePath)
	}

	absDir, err := filepath.Abs(spec.Dir)
	if err != nil {
		return nil, errors.New(errors.Internal, "skills: resolve skill directory", err)
	}
	fullPath, err := filepath.Abs(filepath.Join(spec.Dir, clean))
	if err != nil {
		return nil, errors.New(errors.Internal, "skills: resolve resource path", err)
	}
	if fullPath != absDir && !strings.HasPrefix(fullPath, absDir+string(filepath.Separator)) {
		return nil, errors.New(errors.InvalidArguments, "skills: resource path escapes skill directory", nil).
			WithContext("resource", resourcePath)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errors.New(errors.NotFound, "skills: read resource", err).
			WithContext("resource", resourcePath)
	}
	return data, nil
}

// Entrypoint describes one bundled executable script or module.
type Entrypoint struct {
	Filename    string
	Interpreter string
	Kind        string
}

// entrypointsByExt maps a bundled script's extension to the interpreter
// the Execution Engine should invoke it with, and the descriptor Kind
// the registry reports (spec.md §3 Bundled Entrypoints).
var entrypointsByExt = map[string]Entrypoint{
	".py":   {Interpreter: "python3", Kind: "python"},
	".sh":   {Interpreter: "bash", Kind: "bash"},
	".js":   {Interpreter: "node", Kind: "node"},
	".wasm": {Interpreter: "wasm-runtime", Kind: "wasm"},
}

// DiscoverEntrypoints scans spec's scripts/ subdirectory and infers an
// interpreter for each recognized extension, skipping anything else.
func DiscoverEntrypoints(spec Spec) []Entrypoint {
	dirPath := filepath.Join(spec.Dir, "scripts")
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil
	}
	var out []Entrypoint
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		tmpl, ok := entrypointsByExt[ext]
		if !ok {
			continue
		}
		out = append(out, Entrypoint{
			Filename:    filepath.Join("scripts", entry.Name()),
			Interpreter: tmpl.Interpreter,
			Kind:        tmpl.Kind,
		})
	}
	return out
}
