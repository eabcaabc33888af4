package harness

import "context"

// Context keys
type contextKey string

const (
	sessionTokenKey contextKey = "session_token"
	userContextKey  contextKey = "user"
)

// WithSessionToken adds an operator session token to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey, token)
}

// GetSessionToken extracts an operator session token from the context
func GetSessionToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionTokenKey).(string)
	return token, ok
}

// WithUser adds an authenticated operating user to context
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext extracts the authenticated operating user from
// context. Returns the User and true if authentication succeeded, or nil
// and false otherwise.
func GetUserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}
