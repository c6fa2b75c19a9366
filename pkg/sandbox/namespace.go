// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/labiium/skills/pkg/errors"
)

// namespaceBackend runs the child under fresh Linux namespaces (mount,
// PID, UTS, IPC, and — unless the spec allows network — network) via
// exec.Cmd's Cloneflags, backing the "strict" preset. It gives the
// child its own view of the filesystem mount table and process tree
// without requiring an external container runtime.
type namespaceBackend struct {
	cfg Config
}

// NewNamespaceBackend builds the unshare(2)-based backend.
func NewNamespaceBackend(cfg Config) Backend {
	return &namespaceBackend{cfg: cfg}
}

func (b *namespaceBackend) Name() string { return "namespace" }

func (b *namespaceBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "broker-ns-*")
		if err != nil {
			return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: create scratch dir", err)
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = workDir
	cmd.Env = scrubbedEnv(spec.Env, spec.AllowNet)
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC)
	if !spec.AllowNet {
		flags |= unix.CLONE_NEWNET
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: flags,
		Setpgid:    true,
	}

	if err := cmd.Start(); err != nil {
		// Unprivileged callers frequently cannot create these namespaces
		// (EPERM); surface that as SandboxUnavailable rather than
		// ExecFailed so the caller can fall back to a weaker preset
		// instead of reporting a broken tool.
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: unshare namespaces", err).
			WithContext("command", spec.Command)
	}

	err := cmd.Wait()
	if ctx.Err() != nil && cmd.Process != nil {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	outcome := Outcome{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcome, nil
		}
		return outcome, errors.New(errors.ExecFailed, "sandbox: command failed", err).
			WithContext("command", spec.Command)
	}
	return outcome, nil
}
