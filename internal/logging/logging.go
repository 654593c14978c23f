// Package logging wraps log/slog with trace/span correlation behind a small
// interface, rather than a direct slog.Logger dependency, so callers can be
// faked in tests.
package logging

import (
	"context"
	"log/slog"

	"github.com/parkerlane/netbatcher/internal/telemetry/tracing"
)

// Logger is the minimal logging surface every component depends on.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger. A nil base falls back to slog.Default().
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

// Noop returns a Logger that discards everything, used when enable_logging
// is false.
func Noop() Logger {
	return &correlatedLogger{base: slog.New(slog.DiscardHandler)}
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID != "" || spanID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
	}
	l.base.InfoContext(ctx, msg, attrs...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID != "" || spanID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
	}
	l.base.ErrorContext(ctx, msg, attrs...)
}
