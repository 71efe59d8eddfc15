package tool

import "context"

type sessionKey struct{}

// WithSession attaches the owning session id to a tool execution context.
// The dispatcher sets this before running calls so tools can scope their
// writes without taking session ids as model-controlled arguments.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns the session id attached to the context, or "".
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey{}).(string); ok {
		return v
	}
	return ""
}
