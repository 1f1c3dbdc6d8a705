// Package logging carries a structured logger on a context.Context,
// grounded directly in the teacher's server/logging package. The
// default handler here is JSON (the teacher's context-missing
// fallback), since this module has no interactive text-log mode to
// default to.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey string

const loggerKey contextKey = "hyperpeerAgentContextLogger"

// WithLogger attaches a JSON-handler slog.Logger writing to w to ctx.
func WithLogger(ctx context.Context, w io.Writer) context.Context {
	logger := slog.New(slog.NewJSONHandler(w, nil))

	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger attached to ctx, falling back to a
// default stdout JSON logger if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return logger
}
