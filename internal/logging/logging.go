// Package logging writes the daemon log shared by every broker process.
//
// Each line has the form:
//
//	[2026-01-02T15:04:05Z] [PID:1234] [INFO] message
//
// The file is append-only and self-rotating: once it exceeds 200 KB the
// writer truncates it down to the last 500 lines so that 30 concurrent
// sessions cannot grow it without bound.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

const (
	rotateBytes = 200 * 1024
	rotateKeep  = 500
)

// Logger appends formatted lines to a single log file. Writes are
// best-effort: a failed append never propagates to the caller.
type Logger struct {
	mu    sync.Mutex
	path  string
	min   Level
	pid   int
	wrote int // lines since last rotation check
}

// New creates a Logger writing to path at the given minimum level.
func New(path string, min Level) *Logger {
	return &Logger{path: path, min: min, pid: os.Getpid()}
}

// Discard returns a logger that keeps nothing; used in tests and by
// callers that have no base directory yet.
func Discard() *Logger {
	return &Logger{path: os.DevNull, min: LevelError + 1}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	// A log line is a single line; embedded newlines would corrupt rotation.
	msg = strings.ReplaceAll(msg, "\n", " ")
	line := fmt.Sprintf("[%s] [PID:%d] [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), l.pid, level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	_, _ = f.WriteString(line)
	_ = f.Close()

	l.wrote++
	if l.wrote >= 50 {
		l.wrote = 0
		l.maybeRotate()
	}
}

// maybeRotate truncates the log down to its last rotateKeep lines once it
// exceeds rotateBytes. Rotation races between processes are harmless: both
// rewrite a tail snapshot and the file only shrinks.
func (l *Logger) maybeRotate() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() <= rotateBytes {
		return
	}
	_ = Rotate(l.path, rotateKeep)
}

// Rotate rewrites path keeping only its last keep lines. Exported for the
// cleanup sweeper, which rotates logs it does not own.
func Rotate(path string, keep int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	// Trailing newline produces one empty element; drop it before counting.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) <= keep {
		return nil
	}
	tail := strings.Join(lines[len(lines)-keep:], "\n") + "\n"
	return os.WriteFile(path, []byte(tail), 0o600)
}
