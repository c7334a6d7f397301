package domain

import "context"

type ctxKey string

const generationCtxKey ctxKey = "generation_id"

// ContextWithGenerationID returns a new context carrying the generation
// session ID (ULID), used to correlate logs and events for one turn.
func ContextWithGenerationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, generationCtxKey, id)
}

// GenerationIDFromContext extracts the generation session ID from the
// context. Returns empty string if not set.
func GenerationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(generationCtxKey).(string); ok {
		return v
	}
	return ""
}
