package requestctx

import "context"

// userIDContextKey is the context key for authenticated user identity.
type userIDContextKey struct{}

// sessionContextKey is the context key for the verified session.
type sessionContextKey struct{}

// Session describes the verified session attached to a request.
type Session struct {
	ID     string
	UserID string
}

// WithUserID stores a user identifier in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDContextKey{}).(string)
	return value
}

// WithSession stores the verified session and its user in context.
func WithSession(ctx context.Context, session Session) context.Context {
	ctx = WithUserID(ctx, session.UserID)
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext returns the verified session stored in context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	value, ok := ctx.Value(sessionContextKey{}).(Session)
	return value, ok
}
