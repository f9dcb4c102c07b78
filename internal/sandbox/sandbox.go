// Package sandbox abstracts "how a Session's interpreter process comes to
// be running with piped stdio" behind one Launcher interface, so the
// Interpreter Handle's start() never needs to know whether the interpreter
// lives as a bare host subprocess or inside a throwaway Docker container.
//
// This is the deployment-delegated isolation boundary spec.md's Non-goals
// describe: CES guarantees nothing about sandboxing below the process
// boundary, but a real deployment still has to choose a concrete mechanism,
// and that choice should not leak into interpreter.Handle.
package sandbox

import (
	"context"
	"io"
)

// Spec describes the interpreter process a Launcher should bring up.
type Spec struct {
	SessionID  string
	Command    []string
	Env        []string
	WorkingDir string

	// Image and Resources are only consulted by container-backed launchers.
	Image  string
	Memory string
	CPUs   int
}

// Process is a running interpreter with piped stdio, regardless of which
// Launcher produced it.
type Process struct {
	PID    int
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	wait func() (int, error)
	kill func(ctx context.Context) error
}

// NewProcess builds a Process from its pipes and lifecycle callbacks. Used
// by Launcher implementations, not by Interpreter Handle callers.
func NewProcess(pid int, stdin io.WriteCloser, stdout, stderr io.ReadCloser, wait func() (int, error), kill func(ctx context.Context) error) *Process {
	return &Process{PID: pid, Stdin: stdin, Stdout: stdout, Stderr: stderr, wait: wait, kill: kill}
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) { return p.wait() }

// Kill requests termination, escalating to a forced kill once ctx's
// deadline (the grace period) elapses. Launcher implementations decide the
// exact escalation path (SIGTERM-then-SIGKILL for a bare process,
// stop-then-remove for a container).
func (p *Process) Kill(ctx context.Context) error { return p.kill(ctx) }

// Close releases the process's I/O pipes without waiting for exit.
func (p *Process) Close() error {
	var firstErr error
	for _, c := range []io.Closer{p.Stdin, p.Stdout, p.Stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Launcher starts an interpreter process per Spec and hands back a Process
// whose stdio the Interpreter Handle owns for the remainder of the
// session's lifetime.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Process, error)
	Kind() string
}
