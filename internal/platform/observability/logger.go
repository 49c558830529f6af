package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Logger wraps slog.Logger with trace context integration
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to stdout
func NewLogger(level, format string) *Logger {
	return NewLoggerTo(os.Stdout, level, format)
}

// NewLoggerTo creates a Logger writing to w
func NewLoggerTo(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: level == "debug",
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewDiscardLogger returns a Logger that drops everything. Used in tests.
func NewDiscardLogger() *Logger {
	return NewLoggerTo(io.Discard, "error", "json")
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithTrace extracts trace ID and span ID from context and adds them to log fields
func (l *Logger) WithTrace(ctx context.Context) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return l.Logger
	}

	return l.With(
		slog.String("trace_id", span.SpanContext().TraceID().String()),
		slog.String("span_id", span.SpanContext().SpanID().String()),
	)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogError logs an error with context. Safe on a nil Logger.
func (l *Logger) LogError(ctx context.Context, msg string, err error, fields ...any) {
	if l == nil {
		return
	}
	allFields := append(fields, slog.Any("error", err))
	l.WithTrace(ctx).Error(msg, allFields...)
}

// LogInfo logs info with context. Safe on a nil Logger.
func (l *Logger) LogInfo(ctx context.Context, msg string, fields ...any) {
	if l == nil {
		return
	}
	l.WithTrace(ctx).Info(msg, fields...)
}

// LogDebug logs debug with context. Safe on a nil Logger.
func (l *Logger) LogDebug(ctx context.Context, msg string, fields ...any) {
	if l == nil {
		return
	}
	l.WithTrace(ctx).Debug(msg, fields...)
}

// LogWarn logs warning with context. Safe on a nil Logger.
func (l *Logger) LogWarn(ctx context.Context, msg string, fields ...any) {
	if l == nil {
		return
	}
	l.WithTrace(ctx).Warn(msg, fields...)
}
