// Package logctx carries the request-scoped logger through contexts and
// decorates log records with trace correlation ids.
package logctx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithLogger stores the logger in the context. Handlers and background
// loops pull it back out with LoggerFromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// LoggerFromContext returns the logger attached to ctx, falling back to
// slog.Default when none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}
