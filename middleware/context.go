package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// AdminKey marks requests that passed the admin token check
	AdminKey contextKey = "admin"
)

// GetRequestIDFromContext retrieves the request ID set by the chi RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// WithAdmin marks the context as authenticated for admin routes
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, AdminKey, true)
}

// IsAdmin reports whether the request passed the admin token check
func IsAdmin(ctx context.Context) bool {
	if val := ctx.Value(AdminKey); val != nil {
		if admin, ok := val.(bool); ok {
			return admin
		}
	}
	return false
}
