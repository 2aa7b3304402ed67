package tools

import "context"

type ctxKey string

const sessionIDKey ctxKey = "recipe_session_id"

// WithSessionID stamps the ambient session id onto a context. The
// transport establishes this once per connection (spec.md §6.2); tool
// handlers never accept a session id as a model-visible argument, so there
// is nothing for the model to override (spec.md §9, design note 3).
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the ambient session id set by the transport.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
