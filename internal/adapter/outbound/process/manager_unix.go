//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr places the child in its own process group so a signal to the
// group reaches npm/node wrapper trees, not just the direct child.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess delivers sig to the child's process group, falling back to
// the process itself when the group signal fails.
func signalProcess(proc *os.Process, sig os.Signal) error {
	unixSig, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig)
	}
	if err := unix.Kill(-proc.Pid, unixSig); err == nil {
		return nil
	}
	return proc.Signal(sig)
}

// probeAlive checks process existence with a zero signal.
func probeAlive(proc *os.Process) bool {
	return unix.Kill(proc.Pid, 0) == nil
}

// terminationSignal extracts the terminating signal name, if any.
func terminationSignal(ps *os.ProcessState) (string, bool) {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	return unix.SignalName(unix.Signal(ws.Signal())), true
}
