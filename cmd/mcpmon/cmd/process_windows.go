//go:build windows

package cmd

import (
	"os"
)

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Windows only os.Interrupt is deliverable.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// isInterrupt reports whether sig maps to the conventional 130 exit code.
func isInterrupt(sig os.Signal) bool {
	return sig == os.Interrupt
}
