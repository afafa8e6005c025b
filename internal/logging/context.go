package logging

import (
	"context"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	loggerKey
)

// WithCorrelationIDCtx returns a new context with the correlation ID set.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromCtx extracts the correlation ID from the context.
func CorrelationIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromCtx returns the logger from context, or nil if not set.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	return l
}

// FromCtx returns the logger attached to ctx. Without one, it derives a logger
// from the global logger and the context's correlation ID.
func FromCtx(ctx context.Context) *Logger {
	if l := LoggerFromCtx(ctx); l != nil {
		return l
	}
	l := Global()
	if id := CorrelationIDFromCtx(ctx); id != "" {
		l = l.WithCorrelationID(id)
	}
	return l
}

// PropagateIDs returns a context carrying both the logger and its correlation ID.
func PropagateIDs(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	if id := l.CorrelationID(); id != "" {
		ctx = WithCorrelationIDCtx(ctx, id)
	}
	return WithLoggerCtx(ctx, l)
}
