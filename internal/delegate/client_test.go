package delegate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arnevik/keyfort/internal/delegate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "Bearer service-role", r.Header.Get("Authorization"))
		assert.Equal(t, "service-role", r.Header.Get("apikey"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "ext-123",
			"email":        "alice@example.com",
			"confirmed_at": "2025-01-01T00:00:00Z",
		})
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "service-role", 5*time.Second)
	identity, err := c.CreateUser(context.Background(), "alice@example.com", "Secret123!", "alice")
	require.NoError(t, err)
	assert.Equal(t, "ext-123", identity.ID)
	assert.Equal(t, "alice@example.com", identity.Email)
}

func TestSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.FormValue("grant_type"))
		assert.Equal(t, "alice@example.com", r.FormValue("email"))

		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "delegate-token",
			"token_type":   "bearer",
		})
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "", 5*time.Second)
	session, err := c.SignIn(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, "delegate-token", session.AccessToken)
}

func TestSignIn_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "", 5*time.Second)
	_, err := c.SignIn(context.Background(), "alice@example.com", "wrong")
	assert.ErrorIs(t, err, delegate.ErrRejected)
}

func TestSignIn_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "", 5*time.Second)
	_, err := c.SignIn(context.Background(), "alice@example.com", "Secret123!")
	assert.ErrorIs(t, err, delegate.ErrUnavailable)
}

func TestUnreachableDelegate(t *testing.T) {
	// Nothing listening on this address.
	c := delegate.NewHTTPClient("http://127.0.0.1:1", "", 500*time.Millisecond)

	_, err := c.SignIn(context.Background(), "alice@example.com", "Secret123!")
	assert.ErrorIs(t, err, delegate.ErrUnavailable)

	_, err = c.CreateUser(context.Background(), "alice@example.com", "Secret123!", "alice")
	assert.ErrorIs(t, err, delegate.ErrUnavailable)

	err = c.SendRecoveryEmail(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, delegate.ErrUnavailable)
}

func TestUserFromToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer delegate-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "ext-123",
			"email": "alice@example.com",
			"user_metadata": map[string]string{
				"name": "alice",
			},
		})
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "", 5*time.Second)
	identity, err := c.UserFromToken(context.Background(), "delegate-token")
	require.NoError(t, err)
	assert.Equal(t, "ext-123", identity.ID)
	assert.Equal(t, "alice", identity.Metadata.Name)
}

func TestUpdatePasswordAndDeleteUser(t *testing.T) {
	var gotMethods []string
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethods = append(gotMethods, r.Method)
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "service-role", 5*time.Second)
	require.NoError(t, c.UpdatePassword(context.Background(), "ext-123", "NewSecret123!"))
	require.NoError(t, c.DeleteUser(context.Background(), "ext-123"))

	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, gotMethods)
	assert.Equal(t, []string{"/auth/v1/admin/users/ext-123", "/auth/v1/admin/users/ext-123"}, gotPaths)
}

func TestSendRecoveryEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := delegate.NewHTTPClient(srv.URL, "service-role", 5*time.Second)
	assert.NoError(t, c.SendRecoveryEmail(context.Background(), "alice@example.com"))
}
