package common

import (
	"context"
	"strings"
)

type userIDKey struct{}

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, strings.TrimSpace(id))
}

// UserID extracts the authenticated user identifier from the context if present.
// An empty identifier is reported as absent.
func UserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(userIDKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
