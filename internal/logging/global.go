package logging

import (
	"io"
	"sync/atomic"
)

// global is the process logger used when a context carries none.
var global atomic.Pointer[Logger]

func init() {
	global.Store(DefaultLogger())
}

// SetGlobal replaces the process logger. A nil logger is ignored.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

// Global returns the process logger.
func Global() *Logger {
	return global.Load()
}

// Configure builds the process logger from the observability settings and
// installs it. Debug logging adds the caller.
func Configure(level, format string, out io.Writer) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    out,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}

// Infof logs to the process logger.
func Infof(msg string, fields map[string]any) {
	Global().Infof(msg, fields)
}

// Warnf logs to the process logger.
func Warnf(msg string, fields map[string]any) {
	Global().Warnf(msg, fields)
}

// Errorf logs to the process logger.
func Errorf(msg string, fields map[string]any) {
	Global().Errorf(msg, fields)
}
