// SPDX-License-Identifier: Apache-2.0

package execengine

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/persistence"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/sandbox"
)

// skillArgsInlineLimit is the conservative threshold above which a
// bundled skill's arguments are handed to its sandboxed child via a
// temp file rather than an environment variable.
const skillArgsInlineLimit = 32 * 1024

// execTool implements the peer route of spec.md §4.4 step 5: verify the
// owning session's generation still matches the descriptor's, then
// dispatch with an effective deadline and no retry.
func (e *Engine) execTool(ctx context.Context, desc *registry.Descriptor, args map[string]any, req Request) (Result, error) {
	if e.mux == nil {
		err := errors.New(errors.PeerGone, "execengine: no upstream multiplexer configured", nil)
		return e.fail(desc, err), err
	}
	session := e.mux.Session(desc.Source.PeerAlias)
	if session == nil {
		err := errors.New(errors.PeerGone, "execengine: peer session not found", nil).WithContext("alias", desc.Source.PeerAlias)
		return e.fail(desc, err), err
	}
	if session.Generation() != desc.PeerGeneration {
		err := errors.New(errors.StaleID, "execengine: peer session generation advanced past this descriptor", nil).
			WithContext("callable_id", desc.CallableID)
		return e.fail(desc, err), err
	}

	timeout, err := requireTimeout(desc, req.TimeoutMs)
	if err != nil {
		return e.fail(desc, err), err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callResult, err := e.mux.CallTool(callCtx, desc.Source.PeerAlias, desc.Source.PeerLocalName, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = errors.New(errors.Timeout, "execengine: peer call exceeded effective timeout", err).
				WithContext("callable_id", desc.CallableID).WithContext("timeout_ms", timeout.Milliseconds())
		}
		return e.fail(desc, err), err
	}
	value, err := toolResultValue(callResult)
	if err != nil {
		wrapped := errors.New(errors.ExecFailed, "execengine: peer reported a tool error", err).WithContext("callable_id", desc.CallableID)
		return e.fail(desc, wrapped), wrapped
	}

	return Result{
		CallableID: desc.CallableID,
		FQN:        desc.FQN,
		Route:      RoutePeer,
		Status:     persistence.StatusSucceeded,
		Arguments:  args,
		Value:      value,
	}, nil
}

// requireTimeout rejects an explicit zero or negative requested
// deadline before any peer or sandbox side effect: a literal
// zero-length window, not "unspecified" (spec.md §8 boundary
// property). An omitted TimeoutMs (nil) is distinct from an explicit
// timeout_ms=0 and gets effectiveTimeout's fixed 30-second default. No
// per-preset timeout is applied, whether or not a deadline is given.
func requireTimeout(desc *registry.Descriptor, requestedMs *int) (time.Duration, error) {
	if requestedMs == nil {
		return effectiveTimeout(0, 0), nil
	}
	if *requestedMs <= 0 {
		return 0, errors.New(errors.Timeout, "execengine: timeout_ms must be a positive deadline", nil).
			WithContext("callable_id", desc.CallableID).WithContext("timeout_ms", *requestedMs)
	}
	return effectiveTimeout(*requestedMs, 0), nil
}

// writeSkillArgsFile spills an oversized argument payload to a private
// temp file, returning its path for the SKILL_ARGS_FILE env var.
func writeSkillArgsFile(argsJSON []byte) (string, error) {
	f, err := os.CreateTemp("", "skill-args-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(argsJSON); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// toolResultValue extracts a JSON-friendly payload from an MCP call
// result: structured content wins, then any text content, then the
// raw result as a fallback.
func toolResultValue(result *gomcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.ExecFailed, "execengine: peer returned a nil result", nil)
	}
	if result.IsError {
		return nil, errors.New(errors.ExecFailed, extractTextContent(result.Content), nil)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []gomcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case gomcp.TextContent:
			parts = append(parts, content.Text)
		case *gomcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// execSkill implements spec.md §4.4 step 5's two skill branches: a
// bundled entrypoint runs sandboxed; an entrypoint-less skill returns
// its document as a controlled content retrieval.
func (e *Engine) execSkill(ctx context.Context, desc *registry.Descriptor, args map[string]any, req Request) (Result, error) {
	if e.skillsStore == nil {
		err := errors.New(errors.Internal, "execengine: no skill store configured", nil)
		return e.fail(desc, err), err
	}
	spec, err := e.skillsStore.Get(desc.Name)
	if err != nil {
		return e.fail(desc, err), err
	}

	if len(desc.BundledEntrypoints) == 0 {
		return Result{
			CallableID: desc.CallableID,
			FQN:        desc.FQN,
			Route:      RouteSkillPrompted,
			Status:     persistence.StatusSucceeded,
			Arguments:  args,
			Value: map[string]any{
				"description": spec.Description,
				"body":        spec.Body,
				"metadata":    spec.Metadata,
			},
		}, nil
	}

	if e.sandboxes == nil {
		err := errors.New(errors.SandboxUnavailable, "execengine: no sandbox registry configured", nil)
		return e.fail(desc, err), err
	}

	entry := desc.BundledEntrypoints[0]
	argsJSON, err := json.Marshal(args)
	if err != nil {
		err = errors.New(errors.InvalidArguments, "execengine: marshal skill arguments", err)
		return e.fail(desc, err), err
	}

	timeout, err := requireTimeout(desc, req.TimeoutMs)
	if err != nil {
		return e.fail(desc, err), err
	}
	preset := sandbox.Preset(desc.SandboxPolicy)
	if preset == "" {
		preset = sandbox.PresetStandard
	}
	timeoutMs := int(timeout.Milliseconds())

	env := make(map[string]string, 1)
	if len(argsJSON) > skillArgsInlineLimit {
		argsFile, ferr := writeSkillArgsFile(argsJSON)
		if ferr != nil {
			err := errors.New(errors.Internal, "execengine: write skill arguments temp file", ferr).WithContext("callable_id", desc.CallableID)
			return e.fail(desc, err), err
		}
		defer os.Remove(argsFile)
		env["SKILL_ARGS_FILE"] = argsFile
	} else {
		env["SKILL_ARGS_JSON"] = string(argsJSON)
	}

	outcome, err := e.sandboxes.Run(ctx, sandbox.Spec{
		Preset:    preset,
		Command:   entry.Interpreter,
		Args:      []string{entry.Filename},
		Env:       env,
		WorkDir:   spec.Dir,
		TimeoutMs: timeoutMs,
	})
	if err != nil {
		return e.fail(desc, err), err
	}
	if outcome.ExitCode != 0 {
		err := errors.New(errors.ExecFailed, "execengine: skill entrypoint exited non-zero", nil).
			WithContext("callable_id", desc.CallableID).WithContext("exit_code", outcome.ExitCode)
		return e.fail(desc, err), err
	}

	var value any = string(outcome.Stdout)
	var structured map[string]any
	if json.Unmarshal(outcome.Stdout, &structured) == nil {
		value = structured
	}

	return Result{
		CallableID: desc.CallableID,
		FQN:        desc.FQN,
		Route:      RouteSkillSandbox,
		Status:     persistence.StatusSucceeded,
		Arguments:  args,
		Value:      value,
	}, nil
}
