// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/labiium/skills/pkg/errors"
)

// containerBackend runs each call as a fresh, single-use Docker
// container: create, start, wait, collect logs, remove. It backs the
// "isolated" preset (spec.md §4.5: cross-platform container isolation,
// as opposed to "strict"'s Linux-only namespace isolation).
type containerBackend struct {
	cfg Config
}

// NewContainerBackend builds the docker/docker-based backend. The
// client is constructed lazily on first Run so that a broker without
// a reachable Docker daemon can still start up and serve every other
// preset.
func NewContainerBackend(cfg Config) Backend {
	return &containerBackend{cfg: cfg}
}

func (b *containerBackend) Name() string { return "container" }

func (b *containerBackend) Run(ctx context.Context, spec Spec) (Outcome, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: connect to docker daemon", err)
	}
	defer cli.Close()

	image := b.cfg.DockerImage
	if image == "" {
		image = "alpine:3.20"
	}

	env := flattenEnv(spec.Env)
	if !spec.AllowNet {
		env = append(env, "http_proxy=", "https_proxy=", "HTTP_PROXY=", "HTTPS_PROXY=")
	}

	networkMode := "none"
	if spec.AllowNet {
		if b.cfg.DockerNetwork != "" {
			networkMode = b.cfg.DockerNetwork
		} else {
			networkMode = "bridge"
		}
	}

	cmd := append([]string{spec.Command}, spec.Args...)
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   spec.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkMode),
		Resources: container.Resources{
			Memory:   spec.MaxMemory,
			NanoCPUs: int64(spec.MaxCPUSecs) * 1_000_000_000,
		},
		AutoRemove: false, // remove explicitly below so we can still read the exit code
	}, nil, nil, "")
	if err != nil {
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: create container", err).
			WithContext("image", image)
	}
	defer func() {
		_ = cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return Outcome{}, errors.New(errors.SandboxUnavailable, "sandbox: start container", err).
			WithContext("container_id", created.ID)
	}

	statusCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return Outcome{}, errors.New(errors.ExecFailed, "sandbox: wait for container", err).
				WithContext("container_id", created.ID)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return Outcome{TimedOut: true}, nil
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Outcome{ExitCode: exitCode}, errors.New(errors.PersistenceError, "sandbox: read container logs", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return Outcome{ExitCode: exitCode}, errors.New(errors.PersistenceError, "sandbox: demux container logs", err)
	}

	outcome := Outcome{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}
	if exitCode != 0 {
		return outcome, errors.New(errors.ExecFailed, "sandbox: container exited non-zero", nil).
			WithContext("exit_code", exitCode)
	}
	return outcome, nil
}
