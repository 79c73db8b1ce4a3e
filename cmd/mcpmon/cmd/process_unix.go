//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Unix: SIGINT (Ctrl+C) and SIGTERM (kill).
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// isInterrupt reports whether sig maps to the conventional 130 exit code.
func isInterrupt(sig os.Signal) bool {
	return sig == syscall.SIGINT
}
