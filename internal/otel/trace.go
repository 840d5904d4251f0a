package otel

import (
	"os"
	"sync/atomic"
)

// Per-unit scan events are too noisy for the default log. They are written
// only while tracing is on: SPOILERGUARD_TRACE at startup, or SetTrace.
var tracing atomic.Bool

func init() {
	tracing.Store(os.Getenv("SPOILERGUARD_TRACE") != "")
}

// TraceEnabled reports whether trace events are written.
func TraceEnabled() bool {
	return tracing.Load()
}

// SetTrace turns tracing on or off and returns a func restoring the
// previous setting.
func SetTrace(on bool) (restore func()) {
	prev := tracing.Swap(on)
	return func() { tracing.Store(prev) }
}

// Trace emits e at debug level when tracing is on.
func (l *Logger) Trace(e Event) {
	if l == nil || !TraceEnabled() {
		return
	}
	e.Level = LevelDebug
	l.Emit(e)
}
