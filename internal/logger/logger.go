// Package logger configures the zerolog logger and carries request scoped
// fields (request, tenant, correlation ids) through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	tenantIDKey      contextKey = "tenant_id"
	correlationIDKey contextKey = "correlation_id"
)

// New returns a JSON logger writing to w (stderr when nil) at the given level.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTenantID stores the tenant id in ctx.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// WithCorrelationID stores the correlation id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// From returns l enriched with every id found in ctx.
func From(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	c := l.With()
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		c = c.Str("request_id", v)
	}
	if v, ok := ctx.Value(tenantIDKey).(string); ok && v != "" {
		c = c.Str("tenant_id", v)
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		c = c.Str("correlation_id", v)
	}
	return c.Logger()
}
