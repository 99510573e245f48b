//go:build !unix

package cmd

import "os"

func controlSignals() []os.Signal { return nil }

func pauseRequest(os.Signal) (paused, ok bool) { return false, false }
