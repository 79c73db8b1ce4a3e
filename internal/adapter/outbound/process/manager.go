// Package process provides the exec-based ProcessManager adapter for
// spawning supervised MCP server subprocesses with piped stdio.
package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/neilopet/mcpmon/internal/port/outbound"
)

// Manager spawns child processes using os/exec.
// It implements the outbound.ProcessManager interface.
type Manager struct{}

// NewManager creates an exec-based process manager.
func NewManager() *Manager {
	return &Manager{}
}

// Spawn starts command with args and all three stdio streams piped.
// The child is placed in its own process group on platforms that support it
// so signals reach the whole tree.
func (m *Manager) Spawn(ctx context.Context, command string, args []string, opts outbound.SpawnOptions) (outbound.ChildHandle, error) {
	cmd := exec.Command(command, args...)
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &outbound.SpawnError{Command: command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &outbound.SpawnError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, &outbound.SpawnError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, &outbound.SpawnError{Command: command, Err: err}
	}

	c := &child{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}

	// Resolve the status future. Every handle's Wait must complete to
	// avoid zombies; the supervisor awaits Done before dropping a handle.
	go func() {
		err := cmd.Wait()
		c.setStatus(err)
		close(c.done)
	}()

	return c, nil
}

// Compile-time check that Manager implements ProcessManager.
var _ outbound.ProcessManager = (*Manager)(nil)

// child implements outbound.ChildHandle for an exec.Cmd.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	done   chan struct{}

	mu     sync.Mutex
	status outbound.ExitStatus
}

func (c *child) PID() int {
	return c.cmd.Process.Pid
}

func (c *child) Stdin() io.WriteCloser {
	return c.stdin
}

func (c *child) Stdout() io.ReadCloser {
	return c.stdout
}

func (c *child) Stderr() io.ReadCloser {
	return c.stderr
}

// Kill requests termination with sig. Returns whether the signal was
// delivered; signalling an already-dead process returns false.
func (c *child) Kill(sig os.Signal) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return signalProcess(c.cmd.Process, sig) == nil
}

func (c *child) Done() <-chan struct{} {
	return c.done
}

func (c *child) Status() outbound.ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Alive probes the OS for the process out-of-band.
func (c *child) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return probeAlive(c.cmd.Process)
}

// setStatus records the exit status from cmd.Wait's error.
func (c *child) setStatus(waitErr error) {
	st := outbound.ExitStatus{Code: 0}
	if ps := c.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		if sig, ok := terminationSignal(ps); ok {
			st.Code = -1
			st.Signal = sig
		}
	} else if waitErr != nil {
		st.Code = -1
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// Compile-time check that child implements ChildHandle.
var _ outbound.ChildHandle = (*child)(nil)
