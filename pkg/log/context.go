package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithSession derives a child logger tagged with the editing session identity
// and stores it in the returned context.
func WithSession(ctx context.Context, sceneID, sessionID, userID string) context.Context {
	lc := Ctx(ctx).With().
		Str(FieldSceneID, sceneID).
		Str(FieldSessionID, sessionID)
	if userID != "" {
		lc = lc.Str(FieldUserID, userID)
	}
	return WithLogger(ctx, lc.Logger())
}
