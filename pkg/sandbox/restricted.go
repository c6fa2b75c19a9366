// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/labiium/skills/pkg/errors"
)

// restrictedBackend runs the child in a scratch working directory with
// a scrubbed environment, its own process group for clean teardown, and
// POSIX resource limits (RLIMIT_AS, RLIMIT_CPU) that a freshly exec'd
// child inherits from its parent. It backs "standard", "filesystem",
// and "network" and treats the three alike: from the Spec it reads only
// the network flag (AllowNet keeps proxy variables in the environment)
// and the memory/CPU ceilings (falling back to Config when unset);
// AllowRead and AllowWrite are not enforced. The Execution Engine's
// skill route sets none of these Spec fields. "strict" gets the
// stronger, Linux-only namespaceBackend instead (spec.md §4.5).
//
// Setting process-wide rlimits before fork and restoring them after is
// inherently serialized against other concurrent restricted runs; rlimitMu
// enforces that.
type restrictedBackend struct {
	cfg      Config
	rlimitMu sync.Mutex
}

// NewRestrictedBackend builds the rlimit-and-scratch-dir backend.
func NewRestrictedBackend(cfg Config) Backend {
	return &restrictedBackend{cfg: cfg}
}

func (b *restrictedBackend) Name() string { return "restricted" }

func (b *restrictedBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "broker-sandbox-*")
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
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	maxMem := spec.MaxMemory
	if maxMem <= 0 {
		maxMem = b.cfg.MaxMemoryBytes
	}
	maxCPU := spec.MaxCPUSecs
	if maxCPU <= 0 {
		maxCPU = b.cfg.MaxCPUSeconds
	}

	var restore func()
	if maxMem > 0 || maxCPU > 0 {
		b.rlimitMu.Lock()
		defer b.rlimitMu.Unlock()
		var err error
		restore, err = applyRlimits(maxMem, maxCPU)
		if err != nil {
			return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: apply resource limits", err)
		}
	}

	startErr := cmd.Start()
	if restore != nil {
		restore()
	}
	if startErr != nil {
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: start command", startErr).
			WithContext("command", spec.Command)
	}

	err := cmd.Wait()
	if ctx.Err() != nil {
		// Deadline or cancellation: kill the whole process group so a
		// forked grandchild doesn't outlive the sandboxed call.
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

// applyRlimits sets RLIMIT_AS and RLIMIT_CPU on the calling process and
// returns a function that restores the previous limits. The exec'd
// child inherits whatever is in effect at fork time.
func applyRlimits(maxMemBytes int64, maxCPUSecs int) (func(), error) {
	var prevAS, prevCPU unix.Rlimit
	haveAS := maxMemBytes > 0
	haveCPU := maxCPUSecs > 0

	if haveAS {
		if err := unix.Getrlimit(unix.RLIMIT_AS, &prevAS); err != nil {
			return nil, err
		}
		next := unix.Rlimit{Cur: uint64(maxMemBytes), Max: prevAS.Max}
		if err := unix.Setrlimit(unix.RLIMIT_AS, &next); err != nil {
			return nil, err
		}
	}
	if haveCPU {
		if err := unix.Getrlimit(unix.RLIMIT_CPU, &prevCPU); err != nil {
			if haveAS {
				_ = unix.Setrlimit(unix.RLIMIT_AS, &prevAS)
			}
			return nil, err
		}
		next := unix.Rlimit{Cur: uint64(maxCPUSecs), Max: prevCPU.Max}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &next); err != nil {
			if haveAS {
				_ = unix.Setrlimit(unix.RLIMIT_AS, &prevAS)
			}
			return nil, err
		}
	}
	return func() {
		if haveAS {
			_ = unix.Setrlimit(unix.RLIMIT_AS, &prevAS)
		}
		if haveCPU {
			_ = unix.Setrlimit(unix.RLIMIT_CPU, &prevCPU)
		}
	}, nil
}

// scrubbedEnv builds a minimal environment: PATH and HOME only, plus
// caller-supplied variables, and explicitly blanks proxy variables
// unless the spec allows outbound network.
func scrubbedEnv(extra map[string]string, allowNet bool) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
	}
	if !allowNet {
		env = append(env, "http_proxy=", "https_proxy=", "HTTP_PROXY=", "HTTPS_PROXY=")
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
