package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/arnevik/keyfort/internal/api/middleware"
	"github.com/arnevik/keyfort/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SignupHandler         http.HandlerFunc
	SigninHandler         http.HandlerFunc
	LogoutHandler         http.HandlerFunc
	MeHandler             http.HandlerFunc
	ForgotPasswordHandler http.HandlerFunc
	ResetPasswordHandler  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	UpdateKeyHandler http.HandlerFunc
	RevealKeyHandler http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc

	ListInvoicesHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Post("/auth/signup", orNotImplemented(deps.SignupHandler))
	r.Post("/auth/signin", orNotImplemented(deps.SigninHandler))
	r.Post("/auth/logout", orNotImplemented(deps.LogoutHandler))
	r.Post("/auth/forgot-password", orNotImplemented(deps.ForgotPasswordHandler))
	r.Post("/auth/reset-password", orNotImplemented(deps.ResetPasswordHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/auth/me", orNotImplemented(deps.MeHandler))

		r.Post("/keys", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/keys", orNotImplemented(deps.ListKeysHandler))
		r.Put("/keys/{id}", orNotImplemented(deps.UpdateKeyHandler))
		r.Get("/keys/{id}/decrypt", orNotImplemented(deps.RevealKeyHandler))
		r.Delete("/keys/{id}", orNotImplemented(deps.RevokeKeyHandler))

		r.Get("/billing/invoices", orNotImplemented(deps.ListInvoicesHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
