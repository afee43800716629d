package sensor

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

type logStream int

const (
	opsStream logStream = iota
	diagStream
	traceStream
	numLogStreams
)

const logPrefix = "[sensor] "

var (
	logMu   sync.RWMutex
	loggers [numLogStreams]*log.Logger
)

// SetLogWriters replaces all three logging streams at once.
// A nil writer mutes its stream.
func SetLogWriters(w LogWriters) {
	var next [numLogStreams]*log.Logger
	for s, out := range [numLogStreams]io.Writer{w.Ops, w.Diag, w.Trace} {
		if out != nil {
			next[s] = log.New(out, logPrefix, log.LstdFlags|log.Lmicroseconds)
		}
	}
	logMu.Lock()
	loggers = next
	logMu.Unlock()
}

func streamLogger(s logStream) *log.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return loggers[s]
}

func logf(s logStream, format string, args ...interface{}) {
	if l := streamLogger(s); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs lifecycle events and actionable errors.
func Opsf(format string, args ...interface{}) { logf(opsStream, format, args...) }

// Diagf logs pose failures, misses and calibration context.
func Diagf(format string, args ...interface{}) { logf(diagStream, format, args...) }

// Tracef logs per-frame telemetry.
func Tracef(format string, args ...interface{}) { logf(traceStream, format, args...) }

// traceEnabled lets callers skip formatting matrices nobody will read.
func traceEnabled() bool { return streamLogger(traceStream) != nil }
