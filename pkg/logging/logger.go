package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	actorKey     contextKey = "actor"
)

// LevelTrace is below DEBUG and only meant for debugging sessions
const LevelTrace = slog.LevelDebug - 4

var logger atomic.Pointer[slog.Logger]

func init() {
	// Compact console output by default, JSON via SetJSONOutput
	SetLevel(slog.LevelInfo)
}

// SetLevel installs the compact console handler at level
func SetLevel(level slog.Level) {
	SetHandler(NewCompactHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// SetJSONOutput switches to JSON format output
func SetJSONOutput(level slog.Level) {
	SetHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// SetOutput installs the compact handler writing to w. Used by tests.
func SetOutput(w io.Writer, level slog.Level) {
	SetHandler(NewCompactHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetHandler replaces the handler. Safe to call while other goroutines log.
func SetHandler(h slog.Handler) {
	logger.Store(slog.New(h))
}

// Configure applies a verbosity name and output format
func Configure(verbosity string, json bool) error {
	level, err := ParseLevel(verbosity)
	if err != nil {
		return err
	}
	if json {
		SetJSONOutput(level)
	} else {
		SetLevel(level)
	}
	return nil
}

// ParseLevel maps trace, debug, info, warn or error to a level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithActor records the layout actor a request writes as
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the actor from context
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok {
		return actor
	}
	return ""
}

// contextArgs prepends the request ID and actor when present
func contextArgs(ctx context.Context, args []any) []any {
	var prefix []any
	if requestID := GetRequestID(ctx); requestID != "" {
		prefix = append(prefix, "requestID", requestID)
	}
	if actor := GetActor(ctx); actor != "" {
		prefix = append(prefix, "actor", actor)
	}
	if prefix == nil {
		return args
	}
	return append(prefix, args...)
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	logger.Load().Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	logger.Load().Log(ctx, LevelTrace, msg, contextArgs(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	logger.Load().Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	logger.Load().DebugContext(ctx, msg, contextArgs(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	logger.Load().Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	logger.Load().InfoContext(ctx, msg, contextArgs(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	logger.Load().Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	logger.Load().WarnContext(ctx, msg, contextArgs(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	logger.Load().Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	logger.Load().ErrorContext(ctx, msg, contextArgs(ctx, args)...)
}

// Fatal logs at ERROR level and exits (unrecoverable bugs)
func Fatal(msg string, args ...any) {
	logger.Load().Error(msg, args...)
	os.Exit(1)
}

// FatalContext logs at ERROR level with context and exits
func FatalContext(ctx context.Context, msg string, args ...any) {
	logger.Load().ErrorContext(ctx, msg, contextArgs(ctx, args)...)
	os.Exit(1)
}
