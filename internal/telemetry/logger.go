// Package telemetry provides a nil-safe logger used throughout the
// tracking pipeline, and the optional session-replay store in the store
// subpackage.
package telemetry

import (
	"log"
	"os"
)

// Logger wraps the standard logger with verbose-gated info logging.
// Warnings and errors are always emitted; a nil *Logger is valid and
// discards everything, so components can hold one unconditionally.
type Logger struct {
	verbose bool
	log     *log.Logger
}

// New creates a Logger writing to stderr. Info-level messages are only
// emitted when verbose is true; warnings and errors always are.
func New(verbose bool) *Logger {
	return &Logger{
		verbose: verbose,
		log:     log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.log.Printf("[info] "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Printf("[warn] "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Printf("[error] "+format, args...)
}
