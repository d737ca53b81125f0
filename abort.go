package heapcore

import (
	"fmt"
	"os"
	"runtime"
)

// abortExitCode is the process exit status used when the engine detects a
// fatal invariant violation (bad pointer provenance, double free, a
// corrupted segment canary). It is distinct from ordinary os.Exit(1) so a
// host process can tell an allocator abort apart from an application-level
// failure.
const abortExitCode = 134 // conventionally SIGABRT's 128+6

// abort is the single integrity-check helper every fatal invariant
// violation funnels through: bad pointer provenance, a double free, a
// corrupted canary, or any other state the engine cannot recover from
// in place. It logs a diagnostic line citing the failing invariant and
// its source location, then terminates the process. It never returns.
func abort(reason string, args ...any) {
	_, file, line, _ := runtime.Caller(1)
	msg := fmt.Sprintf(reason, args...)
	logger().Error("heapcore: fatal invariant violation", "reason", msg, "at", fmt.Sprintf("%s:%d", file, line))
	fmt.Fprintf(os.Stderr, "heapcore: fatal: %s at %s:%d\n", msg, file, line)
	os.Exit(abortExitCode)
}
