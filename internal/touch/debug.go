package touch

import (
	"io"
	"log"
	"sync"
)

// LogWriters configures the three diagnostic output streams for the touch
// packages. Any nil writer leaves the corresponding stream disabled.
//
// Ops is for rare operational messages (startup, shutdown, reconfiguration).
// Diag is for per-session diagnostics (session open/close, commits, drops).
// Trace is for per-event output and is very chatty; enable it only when
// debugging a specific interaction.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	logMu    sync.RWMutex
	opsLog   *log.Logger
	diagLog  *log.Logger
	traceLog *log.Logger
)

// SetLogWriters installs the diagnostic writers for the touch packages.
// Passing a zero LogWriters silences all streams.
func SetLogWriters(w LogWriters) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLog = newLogger(w.Ops)
	diagLog = newLogger(w.Diag)
	traceLog = newLogger(w.Trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[touch] ", log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs an operational message if the Ops stream is enabled.
func Opsf(format string, args ...any) {
	logMu.RLock()
	l := opsLog
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs a diagnostic message if the Diag stream is enabled.
func Diagf(format string, args ...any) {
	logMu.RLock()
	l := diagLog
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs a per-event message if the Trace stream is enabled.
func Tracef(format string, args ...any) {
	logMu.RLock()
	l := traceLog
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
