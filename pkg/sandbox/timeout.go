// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/labiium/skills/pkg/errors"
)

// timeoutBackend runs the child with no isolation beyond the caller's
// context deadline. It backs the "development" and "none" presets,
// where the operator has explicitly opted out of stronger isolation.
type timeoutBackend struct{}

// NewTimeoutBackend builds a Backend that only enforces the deadline.
func NewTimeoutBackend() Backend {
	return &timeoutBackend{}
}

func (b *timeoutBackend) Name() string { return "timeout" }

func (b *timeoutBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = flattenEnv(spec.Env)
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	outcome := Outcome{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcome, nil // caller (Registry.Run) classifies deadline exceeded
		}
		return outcome, errors.New(errors.ExecFailed, "sandbox: command failed", err).
			WithContext("command", spec.Command)
	}
	return outcome, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
