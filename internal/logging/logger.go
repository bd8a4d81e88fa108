// Package logging provides the structured logger used across the checkout service.
//
// Every component owns a LoggerV2 tagged with its name; call sites pass
// key/value context as Fields rather than formatting it into the message.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Fields carries structured context for a log entry.
type Fields map[string]interface{}

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
)

// SetLevel changes the minimum level for every logger. Unknown names fall back to info.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput redirects every logger to w. Intended for tests and the CLI.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func currentHandler() slog.Handler {
	mu.RLock()
	defer mu.RUnlock()
	return handler
}

// LoggerV2 is a component-scoped structured logger.
type LoggerV2 struct {
	component string
	base      Fields
}

// NewLoggerV2 creates a logger tagged with the given component name.
func NewLoggerV2(component string) *LoggerV2 {
	return &LoggerV2{component: component}
}

// With returns a child logger that always includes fields.
func (l *LoggerV2) With(fields Fields) *LoggerV2 {
	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LoggerV2{component: l.component, base: merged}
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) { l.log(slog.LevelDebug, msg, fields) }
func (l *LoggerV2) Info(msg string, fields ...Fields)  { l.log(slog.LevelInfo, msg, fields) }
func (l *LoggerV2) Warn(msg string, fields ...Fields)  { l.log(slog.LevelWarn, msg, fields) }
func (l *LoggerV2) Error(msg string, fields ...Fields) { l.log(slog.LevelError, msg, fields) }

// Fatal logs at error level and exits the process.
func (l *LoggerV2) Fatal(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

func (l *LoggerV2) log(lvl slog.Level, msg string, fields []Fields) {
	h := currentHandler()
	ctx := context.Background()
	if !h.Enabled(ctx, lvl) {
		return
	}

	attrs := make([]any, 0, 2+2*len(l.base))
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	for k, v := range l.base {
		attrs = append(attrs, k, v)
	}
	for _, f := range fields {
		for k, v := range f {
			attrs = append(attrs, k, v)
		}
	}

	slog.New(h).Log(ctx, lvl, msg, attrs...)
}

var std = NewLoggerV2("")

// Info logs a message with fields on the default logger.
func Info(msg string, fields ...Fields) { std.Info(msg, fields...) }

// Infof logs a formatted message on the default logger.
func Infof(format string, args ...interface{}) { std.Info(fmt.Sprintf(format, args...)) }
