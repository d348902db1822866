package middleware

import (
	"context"
	"net/http"

	"github.com/arnevik/keyfort/pkg/models"
	"github.com/google/uuid"
)

type contextKey string

const userKey contextKey = "user"

func setUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUser returns the authenticated user set by the auth middleware.
func GetUser(r *http.Request) (*models.User, bool) {
	u, ok := r.Context().Value(userKey).(*models.User)
	return u, ok
}

// GetUserID returns the authenticated user's id.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	u, ok := GetUser(r)
	if !ok {
		return uuid.Nil, false
	}
	return u.ID, true
}

// WithUser injects a user into the request context (for tests).
func WithUser(r *http.Request, u *models.User) *http.Request {
	return r.WithContext(setUser(r.Context(), u))
}
