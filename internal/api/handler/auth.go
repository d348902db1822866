package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	mw "github.com/arnevik/keyfort/internal/api/middleware"
	"github.com/arnevik/keyfort/internal/api/response"
	"github.com/arnevik/keyfort/internal/auth"
	"github.com/arnevik/keyfort/pkg/models"
)

const minPasswordLen = 8

// AuthService defines the gateway operations the auth handlers depend on.
type AuthService interface {
	Signup(ctx context.Context, email, password, name string) (*auth.Result, error)
	Signin(ctx context.Context, email, password string) (*auth.Result, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type userResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Plan             string `json:"plan"`
	CredentialSource string `json:"credential_source"`
	EmailVerified    bool   `json:"email_verified"`
	CreatedAt        string `json:"created_at"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:               u.ID.String(),
		Email:            u.Email,
		Name:             u.Name,
		Plan:             u.Plan,
		CredentialSource: u.CredentialSource(),
		EmailVerified:    u.EmailVerified,
		CreatedAt:        u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// NewSignupHandler returns an http.HandlerFunc for POST /auth/signup.
func NewSignupHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if !validEmail(req.Email) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "A valid email is required", nil)
			return
		}
		if len(req.Password) < minPasswordLen {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters", nil)
			return
		}

		result, err := svc.Signup(r.Context(), req.Email, req.Password, req.Name)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Created(w, authResponse{
			Token: result.Token,
			User:  toUserResponse(result.User),
		})
	}
}

// NewSigninHandler returns an http.HandlerFunc for POST /auth/signin.
func NewSigninHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Email == "" || req.Password == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
			return
		}

		result, err := svc.Signin(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, authResponse{
			Token: result.Token,
			User:  toUserResponse(result.User),
		})
	}
}

// NewLogoutHandler returns an http.HandlerFunc for POST /auth/logout.
// Tokens are stateless, so logout is a client-side concern; the endpoint
// exists so clients have a uniform call to make.
func NewLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]string{"status": "logged_out"})
	}
}

// NewMeHandler returns an http.HandlerFunc for GET /auth/me.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		response.JSON(w, toUserResponse(user))
	}
}

// NewForgotPasswordHandler returns an http.HandlerFunc for POST
// /auth/forgot-password. The response is byte-identical whether or not
// the email matches an account; the minted token only travels out of
// band (delegate recovery email), never in the response body.
func NewForgotPasswordHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Email == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email is required", nil)
			return
		}

		if _, err := svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]string{
			"message": "If the email exists, a reset link has been sent",
		})
	}
}

// NewResetPasswordHandler returns an http.HandlerFunc for POST /auth/reset-password.
func NewResetPasswordHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token       string `json:"token"`
			NewPassword string `json:"new_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Token == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required", nil)
			return
		}
		if len(req.NewPassword) < minPasswordLen {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters", nil)
			return
		}

		if err := svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				response.Error(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Reset token has expired", nil)
			case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrUserNotFound):
				response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid reset token", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]string{"message": "Password updated"})
	}
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}
