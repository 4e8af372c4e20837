// Package meenlog is the engine's one ambient logging facade: a small
// Debugf/Errorf interface over the standard library's log.Logger,
// following the teacher's plain log.Printf usage (ui/gameplay.go's
// log.Printf("Failed to load achievements: %v", err)) rather than reaching
// for a structured-logging package the teacher never imports.
package meenlog

import (
	"log"
	"os"
)

// Logger is the facade Machine diagnostics are routed through.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

// stdLogger implements Logger over a standard library *log.Logger.
type stdLogger struct {
	*log.Logger
}

// New creates a Logger writing to standard error with the given prefix, in the standard
// library's own date/time + prefix + message format.
func New(prefix string) Logger {
	return &stdLogger{log.New(os.Stderr, prefix, log.LstdFlags)}
}

// Debugf logs a diagnostic message that does not, by itself, indicate a
// failure (e.g. a Load/Save boundary being taken).
func (l *stdLogger) Debugf(format string, args ...any) {
	l.Printf("DEBUG "+format, args...)
}

// Errorf logs a runtime failure such as a decode error or an MD5 mismatch.
func (l *stdLogger) Errorf(format string, args ...any) {
	l.Printf("ERROR "+format, args...)
}

// Default is the Logger a Machine uses until replaced, matching the
// teacher's package-level logging (no per-instance logger plumbing).
var Default Logger = New("meen: ")
