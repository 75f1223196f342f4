// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

const (
	// ControlDescriptor is the descriptor number on which every child
	// in the default topology finds its control connection.
	ControlDescriptor = 3

	// maxTargetDescriptor bounds Spec.TargetDescriptor; every number
	// below it becomes a closed slot in the child.
	maxTargetDescriptor = 255
)

// Spec describes one child process.
type Spec struct {
	// Role names the child in logs and errors.
	Role string

	// Path is the executable. Args are the arguments after argv[0],
	// which is set to Path.
	Path string
	Args []string

	// Env is the child's environment. nil inherits the parent's.
	Env []string

	// Connection is the child's end of its control connection. Spawn
	// closes the parent's copy once the child has started (or failed
	// to), so the parent is left holding only its own end.
	Connection *os.File

	// TargetDescriptor is the number the child finds Connection on.
	// Must be at least 3; zero means ControlDescriptor.
	TargetDescriptor int

	// Stdout and Stderr default to the parent's.
	Stdout io.Writer
	Stderr io.Writer
}

// ExitStatus describes how a child ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a
	// signal.
	Code int

	// Signal is the terminating signal when Code is -1.
	Signal syscall.Signal
}

// Success reports whether the child exited with code 0.
func (s ExitStatus) Success() bool {
	return s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Code == -1 {
		return fmt.Sprintf("killed by %v", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Child is a running (or exited) child process.
type Child struct {
	role string
	cmd  *exec.Cmd

	done    chan struct{}
	status  ExitStatus
	waitErr error
}

// Spawn starts the child described by spec with spec.Connection
// remapped onto spec.TargetDescriptor. When ctx is done the child is
// killed. The caller must eventually observe Done or call Wait; the
// child is reaped by a goroutine either way.
func Spawn(ctx context.Context, spec Spec) (*Child, error) {
	if spec.Connection == nil {
		return nil, fmt.Errorf("spawning %s: no connection", spec.Role)
	}
	defer spec.Connection.Close()

	target := spec.TargetDescriptor
	if target == 0 {
		target = ControlDescriptor
	}
	if target < 3 || target > maxTargetDescriptor {
		return nil, fmt.Errorf("spawning %s: target descriptor %d outside [3, %d]", spec.Role, target, maxTargetDescriptor)
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// ExtraFiles[i] lands on 3+i. Slots below the target stay nil and
	// are closed in the child.
	cmd.ExtraFiles = make([]*os.File, target-2)
	cmd.ExtraFiles[target-3] = spec.Connection

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s (%s): %w", spec.Role, spec.Path, err)
	}

	child := &Child{
		role: spec.Role,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go child.reap()
	return child, nil
}

func (c *Child) reap() {
	defer close(c.done)
	err := c.cmd.Wait()
	state := c.cmd.ProcessState
	if state == nil {
		c.status = ExitStatus{Code: -1}
		c.waitErr = err
		return
	}
	c.status = ExitStatus{Code: state.ExitCode()}
	if waitStatus, ok := state.Sys().(syscall.WaitStatus); ok && waitStatus.Signaled() {
		c.status.Signal = waitStatus.Signal()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// The process exited but Wait failed for another reason, such
		// as an output copy error.
		c.waitErr = err
	}
}

// Role returns the role name from the Spec.
func (c *Child) Role() string { return c.role }

// Pid returns the child's process ID.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Done returns a channel that is closed once the child has exited and
// been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Wait blocks until the child exits or ctx is done. A child that exits
// non-zero or by signal is not an error: inspect the ExitStatus.
func (c *Child) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-c.done:
		if c.waitErr != nil {
			return c.status, fmt.Errorf("waiting for %s (pid %d): %w", c.role, c.Pid(), c.waitErr)
		}
		return c.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill sends SIGKILL. Killing a child that has already exited is a
// no-op.
func (c *Child) Kill() error {
	err := c.cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("killing %s (pid %d): %w", c.role, c.Pid(), err)
}
