package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/HyphaGroup/cesvault/internal/container"
	"github.com/HyphaGroup/cesvault/internal/container/docker"
)

// DockerLauncher runs each session's interpreter inside its own long-lived
// "sleep forever" container, then execs the interpreter command inside it
// interactively — adapted from the teacher's container.Runtime.ExecInteractive,
// which already demultiplexes stdout/stderr and hijacks stdin for exactly
// this shape of interactive command.
type DockerLauncher struct {
	runtime *docker.Runtime
	image   string
}

func NewDockerLauncher(image string) (*DockerLauncher, error) {
	rt, err := docker.NewRuntime()
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker runtime: %w", err)
	}
	return &DockerLauncher{runtime: rt, image: image}, nil
}

func (l *DockerLauncher) Kind() string { return "docker" }

func (l *DockerLauncher) Launch(ctx context.Context, spec Spec) (*Process, error) {
	image := spec.Image
	if image == "" {
		image = l.image
	}
	if exists, err := l.runtime.ImageExists(ctx, image); err != nil {
		return nil, fmt.Errorf("sandbox: image check: %w", err)
	} else if !exists {
		if err := l.runtime.Pull(ctx, image); err != nil {
			return nil, fmt.Errorf("sandbox: pull %s: %w", image, err)
		}
	}

	containerID, err := l.runtime.Create(ctx, container.CreateConfig{
		Name:        "ces-" + spec.SessionID,
		Image:       image,
		Entrypoint:  []string{"sleep"},
		Cmd:         []string{"infinity"},
		Env:         spec.Env,
		WorkingDir:  spec.WorkingDir,
		AutoRemove:  false,
		Memory:      spec.Memory,
		CPUs:        spec.CPUs,
		Labels:      map[string]string{"ces.session": spec.SessionID},
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := l.runtime.Start(ctx, containerID); err != nil {
		_ = l.runtime.Remove(ctx, containerID, true)
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}

	exec, err := l.runtime.ExecInteractive(ctx, containerID, container.ExecConfig{
		Cmd:          spec.Command,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		_ = l.runtime.Stop(ctx, containerID)
		_ = l.runtime.Remove(ctx, containerID, true)
		return nil, fmt.Errorf("sandbox: exec interactive: %w", err)
	}

	wait := func() (int, error) { return exec.Wait() }

	kill := func(ctx context.Context) error {
		_ = exec.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.runtime.Stop(stopCtx, containerID)
		return l.runtime.Remove(stopCtx, containerID, true)
	}

	return NewProcess(0, exec.Stdin, exec.Stdout, exec.Stderr, wait, kill), nil
}
