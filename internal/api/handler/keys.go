package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mw "github.com/arnevik/keyfort/internal/api/middleware"
	"github.com/arnevik/keyfort/internal/api/response"
	"github.com/arnevik/keyfort/internal/keys"
	"github.com/arnevik/keyfort/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// KeyService defines the vault operations the key handlers depend on.
type KeyService interface {
	Create(ctx context.Context, userID uuid.UUID, p keys.CreateParams) (*models.SecretRecord, string, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.SecretRecord, error)
	Update(ctx context.Context, userID, id uuid.UUID, p keys.UpdateParams) (*models.SecretRecord, string, error)
	Reveal(ctx context.Context, userID, id uuid.UUID) (*models.SecretRecord, string, error)
	Revoke(ctx context.Context, userID, id uuid.UUID) error
}

// secretResponse is the wire shape of a secret record. APIKey carries the
// plaintext and is only populated on create and rotation responses.
type secretResponse struct {
	*models.SecretRecord
	APIKey string `json:"api_key,omitempty"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /keys.
func NewCreateKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Name           string           `json:"name"`
			Provider       string           `json:"provider"`
			ProviderConfig *json.RawMessage `json:"provider_config"`
			Value          string           `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		rec, plaintext, err := svc.Create(r.Context(), userID, keys.CreateParams{
			Name:           req.Name,
			Provider:       req.Provider,
			ProviderConfig: rawToString(req.ProviderConfig),
			Value:          req.Value,
		})
		if err != nil {
			writeKeyError(w, err)
			return
		}

		response.Created(w, secretResponse{SecretRecord: rec, APIKey: plaintext})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /keys.
func NewListKeysHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		records, err := svc.List(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		out := make([]secretResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, secretResponse{SecretRecord: rec})
		}
		response.JSON(w, out)
	}
}

// NewUpdateKeyHandler returns an http.HandlerFunc for PUT /keys/{id}.
func NewUpdateKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		var req struct {
			Name           *string          `json:"name"`
			Provider       *string          `json:"provider"`
			ProviderConfig *json.RawMessage `json:"provider_config"`
			Value          *string          `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		rec, plaintext, err := svc.Update(r.Context(), userID, id, keys.UpdateParams{
			Name:           req.Name,
			Provider:       req.Provider,
			ProviderConfig: rawToString(req.ProviderConfig),
			Value:          req.Value,
		})
		if err != nil {
			writeKeyError(w, err)
			return
		}

		response.JSON(w, secretResponse{SecretRecord: rec, APIKey: plaintext})
	}
}

// NewRevealKeyHandler returns an http.HandlerFunc for GET /keys/{id}/decrypt.
func NewRevealKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		rec, plaintext, err := svc.Reveal(r.Context(), userID, id)
		if err != nil {
			writeKeyError(w, err)
			return
		}

		response.JSON(w, map[string]string{
			"api_key": plaintext,
			"name":    rec.Name,
			"prefix":  rec.Prefix,
			"last4":   rec.Last4,
		})
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /keys/{id}.
func NewRevokeKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		if err := svc.Revoke(r.Context(), userID, id); err != nil {
			writeKeyError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// writeKeyError maps vault service errors to API responses. Anything not
// explicitly classified (including decryption failures) is an opaque 500.
func writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keys.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
	case errors.Is(err, keys.ErrDuplicateSecret):
		response.Error(w, http.StatusConflict, "DUPLICATE_SECRET", "A key with this value already exists", nil)
	case errors.Is(err, keys.ErrProviderConfig):
		response.Error(w, http.StatusBadRequest, "INVALID_PROVIDER_CONFIG", "provider_config is missing or not valid JSON", nil)
	case errors.Is(err, keys.ErrPlanLimit):
		response.Error(w, http.StatusForbidden, "PLAN_LIMIT_REACHED", "Free plan is limited to 3 active API keys", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func rawToString(raw *json.RawMessage) *string {
	if raw == nil {
		return nil
	}
	s := string(*raw)
	return &s
}
