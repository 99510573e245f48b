// internal/recovery/recovery.go
package recovery

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

// output receives panic reports
var output io.Writer = os.Stderr

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r)
		os.Exit(1)
	}
}

// HandlePanicFunc logs panic details and calls the provided cleanup function.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}

// Go runs fn on a new goroutine that exits the process through
// HandlePanicFunc if fn panics. cleanup may be nil.
func Go(fn func(), cleanup func()) {
	go func() {
		defer HandlePanicFunc(cleanup)
		fn()
	}()
}

func report(r any) {
	_, _ = fmt.Fprintf(output, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
}
