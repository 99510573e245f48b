//go:build unix

package cmd

import (
	"os"
	"syscall"
)

// controlSignals returns the signals that pause and resume listening
func controlSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}
}

// pauseRequest maps SIGUSR1 to pause and SIGUSR2 to resume
func pauseRequest(sig os.Signal) (paused, ok bool) {
	switch sig {
	case syscall.SIGUSR1:
		return true, true
	case syscall.SIGUSR2:
		return false, true
	}
	return false, false
}
