package heapcore

import (
	"io"
	"log/slog"
	"sync/atomic"
)

// logger is the package-wide diagnostic sink. It defaults to discarding
// everything, the same default hivekit's cmd/hiveexplorer/logger package
// uses before Init is called. Only New (one line per constructed heap)
// and abort write to it; the allocate, free, growth, and fallback paths
// do not log.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// SetLogger points the package's diagnostic output at l. Pass nil to go
// back to discarding everything.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loggerPtr.Store(l)
}

func logger() *slog.Logger {
	return loggerPtr.Load()
}
