package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/arnevik/keyfort/internal/api/response"
	"github.com/arnevik/keyfort/internal/auth"
	"github.com/arnevik/keyfort/pkg/models"
)

// TokenVerifier validates a bearer token and resolves its principal.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*models.User, error)
}

// Auth provides bearer-token authentication middleware.
type Auth struct {
	verifier TokenVerifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(v TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate validates the Authorization header and sets the resolved
// user in the request context. All verification failures are surfaced as
// 401 with no internal detail.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		user, err := a.verifier.VerifyAccess(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				response.Error(w, http.StatusUnauthorized,
					"TOKEN_EXPIRED", "Token has expired", nil)
			case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrUserNotFound):
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Invalid token", nil)
			default:
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "Failed to validate token", nil)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(setUser(r.Context(), user)))
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
