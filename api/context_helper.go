package api

import (
	"context"
	"time"

	"github.com/nagarsathi/civic-issues-api/models"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

type contextKey string

const userContextKey contextKey = "authUser"

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

// WithUser returns a context carrying the authenticated principal
func WithUser(parent context.Context, user models.AuthUser) context.Context {
	return context.WithValue(parent, userContextKey, user)
}

// UserFromContext extracts the authenticated principal set by the auth
// middleware. ok is false on anonymous requests.
func UserFromContext(ctx context.Context) (models.AuthUser, bool) {
	user, ok := ctx.Value(userContextKey).(models.AuthUser)
	return user, ok
}
