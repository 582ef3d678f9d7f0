// Package log is a leveled printf-style logger. Lines carry a timestamp,
// the level, and the calling file:line.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a configuration string to a level. Unknown values fall
// back to info rather than failing startup.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

type Logger struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	exit  func(int)
}

func New(level Level) *Logger {
	return &Logger{
		level: level,
		out:   os.Stdout,
		exit:  os.Exit,
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *Logger) Debug(format string, args ...any) { l.output(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.output(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.output(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.output(LevelError, format, args...) }

// Fatal logs the message and exits the process.
func (l *Logger) Fatal(format string, args ...any) {
	l.output(LevelFatal, format, args...)
	l.exit(1)
}

// output must be called exactly one frame below the user's call so the
// caller attribution lands on their line.
func (l *Logger) output(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "unknown:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	fmt.Fprintf(l.out, "[%s] [%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		level,
		caller,
		fmt.Sprintf(format, args...))
}

// std is the process-wide logger behind the package-level functions.
var std = New(LevelInfo)

func SetLevel(level Level)  { std.SetLevel(level) }
func SetOutput(w io.Writer) { std.SetOutput(w) }

func Debug(format string, args ...any) { std.output(LevelDebug, format, args...) }
func Info(format string, args ...any)  { std.output(LevelInfo, format, args...) }
func Warn(format string, args ...any)  { std.output(LevelWarn, format, args...) }
func Error(format string, args ...any) { std.output(LevelError, format, args...) }

func Fatal(format string, args ...any) {
	std.output(LevelFatal, format, args...)
	std.exit(1)
}
