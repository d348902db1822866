package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnevik/keyfort/internal/auth"
	"github.com/arnevik/keyfort/pkg/models"
)

type fakeVerifier struct {
	user *models.User
	err  error
}

func (f *fakeVerifier) VerifyAccess(ctx context.Context, token string) (*models.User, error) {
	return f.user, f.err
}

// fakeCache implements cache.Cache with a fixed counter.
type fakeCache struct {
	count int64
	err   error
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeCache) Ping(ctx context.Context) error               { return nil }
func (f *fakeCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	f.count++
	return f.count, f.err
}
func (f *fakeCache) Close() error { return nil }

func okHandler() (http.Handler, *bool) {
	called := new(bool)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}), called
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	mw := NewAuth(&fakeVerifier{})
	next, called := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	mw := NewAuth(&fakeVerifier{})
	next, called := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	mw := NewAuth(&fakeVerifier{err: auth.ErrTokenExpired})
	next, _ := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	mw := NewAuth(&fakeVerifier{err: auth.ErrTokenInvalid})
	next, _ := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	mw := NewAuth(&fakeVerifier{err: auth.ErrUserNotFound})
	next, _ := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer orphaned-token")
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestAuthenticate_SetsUser(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "alice@example.com"}
	mw := NewAuth(&fakeVerifier{user: user})

	var gotID uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetUserID(r)
		require.True(t, ok)
		gotID = id
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, gotID)
}

func TestRateLimit_UnderLimit(t *testing.T) {
	rl := NewRateLimit(&fakeCache{}, 5)
	next, called := okHandler()

	user := &models.User{ID: uuid.New()}
	req := WithUser(httptest.NewRequest(http.MethodGet, "/keys", nil), user)
	w := httptest.NewRecorder()
	rl.Limit(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_OverLimit(t *testing.T) {
	rl := NewRateLimit(&fakeCache{count: 5}, 5)
	next, called := okHandler()

	user := &models.User{ID: uuid.New()}
	req := WithUser(httptest.NewRequest(http.MethodGet, "/keys", nil), user)
	w := httptest.NewRecorder()
	rl.Limit(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, *called)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	rl := NewRateLimit(&fakeCache{err: errors.New("redis down")}, 5)
	next, called := okHandler()

	user := &models.User{ID: uuid.New()}
	req := WithUser(httptest.NewRequest(http.MethodGet, "/keys", nil), user)
	w := httptest.NewRecorder()
	rl.Limit(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
}

func TestLogger_PassesResponseThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	Logger(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
}

func TestRateLimit_NoUserPassesThrough(t *testing.T) {
	rl := NewRateLimit(&fakeCache{}, 5)
	next, called := okHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	rl.Limit(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
}
