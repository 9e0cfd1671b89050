// Package logger wraps log/slog with the attribute-level helpers INAU's
// daemon and CLI share (error-aware Error/Fatal variants, context-aware
// twins, and With() for per-build/per-request scoping).
package logger

import (
	"context"
	"log/slog"
	"os"
)

type Logger struct {
	*slog.Logger
}

// New creates a Logger writing structured JSON to w at the given level.
// The daemon uses this for production output; debug builds pass
// slog.LevelDebug and AddSource to get call-site information.
func New(w *os.File, level slog.Level, addSource bool) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewDefault returns a Logger at INFO level writing to stderr, honoring
// DEBUG=1 the way the rest of the pack's CLIs do.
func NewDefault() *Logger {
	level := slog.LevelInfo
	addSource := false
	if os.Getenv("DEBUG") == "1" {
		level = slog.LevelDebug
		addSource = true
	}
	return New(os.Stderr, level, addSource)
}

func withError(err error, attrs []slog.Attr) []slog.Attr {
	if err == nil {
		return attrs
	}
	return append(attrs, slog.String("error", err.Error()))
}

func toArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

func (l *Logger) Info(msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Info(msg, toArgs(attrs)...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.InfoContext(ctx, msg, toArgs(attrs)...)
}

func (l *Logger) Warn(msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Warn(msg, toArgs(attrs)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.WarnContext(ctx, msg, toArgs(attrs)...)
}

func (l *Logger) Error(msg string, err error, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Error(msg, toArgs(withError(err, attrs))...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.ErrorContext(ctx, msg, toArgs(withError(err, attrs))...)
}

// Fatal logs at ERROR and exits the process. Reserved for startup
// failures in cmd/ entrypoints — never call from request-handling code.
func (l *Logger) Fatal(msg string, err error, attrs ...slog.Attr) {
	if l != nil && l.Logger != nil {
		l.Logger.Error(msg, toArgs(withError(err, attrs))...)
	}
	os.Exit(1)
}

func (l *Logger) Debug(msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Debug(msg, toArgs(attrs)...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.DebugContext(ctx, msg, toArgs(attrs)...)
}

// With returns a Logger that includes attrs on every subsequent call,
// used to scope a logger to one build ID or one HTTP request.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	if l == nil || l.Logger == nil {
		return nil
	}
	return &Logger{Logger: l.Logger.With(toArgs(attrs)...)}
}
