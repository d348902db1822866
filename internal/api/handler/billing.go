package handler

import (
	"net/http"

	mw "github.com/arnevik/keyfort/internal/api/middleware"
	"github.com/arnevik/keyfort/internal/api/response"
)

// NewListInvoicesHandler returns an http.HandlerFunc for GET
// /billing/invoices. Invoice listing is not implemented yet; the endpoint
// returns an empty list so the dashboard renders.
func NewListInvoicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := mw.GetUserID(r); !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		response.JSON(w, []any{})
	}
}
