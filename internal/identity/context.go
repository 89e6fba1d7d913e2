// ABOUTME: Request-scoped identity propagation via context.Context
// ABOUTME: Provides WithUser/FromContext for carrying the authenticated user id

package identity

import (
	"context"
)

// userContextKey is the key type for storing the user id in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user id attached.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// FromContext retrieves the authenticated user id from the context.
// The second value is false for anonymous requests.
func FromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey{}).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}
