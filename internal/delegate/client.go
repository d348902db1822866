// Package delegate integrates with an external identity provider that
// may own the authoritative credential record for a user. The adapter is
// optional: a nil Client is a normal configuration, and any failure from
// a configured delegate is reported as ErrUnavailable so the caller can
// fall back to local verification.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for delegate failures.
var (
	// ErrUnavailable covers transport errors, timeouts, and unexpected
	// status codes. Callers treat it as "delegate unavailable" and fall
	// back to local auth; it is never surfaced to API clients.
	ErrUnavailable = errors.New("delegate unavailable")
	// ErrRejected means the delegate answered and said no (bad
	// credentials, unknown user). Not a fallback trigger by itself.
	ErrRejected = errors.New("delegate rejected request")
)

// Identity is the delegate's view of a user.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	ConfirmedAt string `json:"confirmed_at"`
	Metadata    struct {
		Name string `json:"name"`
	} `json:"user_metadata"`
}

// Session is the result of a successful delegate password signin.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Client is the capability interface consumed by the auth gateway.
// Every operation is optional at the call site.
type Client interface {
	CreateUser(ctx context.Context, email, password, name string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	UserFromToken(ctx context.Context, accessToken string) (*Identity, error)
	SendRecoveryEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, userID, newPassword string) error
	DeleteUser(ctx context.Context, userID string) error
}

// HTTPClient implements Client against a Supabase-compatible auth API.
type HTTPClient struct {
	baseURL        string
	serviceRoleKey string
	client         *http.Client
}

// NewHTTPClient creates a delegate client. The timeout bounds every call;
// there are no retries, a slow delegate is an unavailable delegate.
func NewHTTPClient(baseURL, serviceRoleKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		serviceRoleKey: serviceRoleKey,
		client:         &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateUser(ctx context.Context, email, password, name string) (*Identity, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"user_metadata": map[string]string{
			"name": name,
		},
	}

	var identity Identity
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/admin/users", payload, true, &identity)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	form := url.Values{
		"grant_type": {"password"},
		"email":      {email},
		"password":   {password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrRejected)
	}
	return &session, nil
}

func (c *HTTPClient) UserFromToken(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return &identity, nil
}

func (c *HTTPClient) SendRecoveryEmail(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/recover", map[string]string{"email": email}, true, nil)
}

func (c *HTTPClient) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	return c.doJSON(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(userID),
		map[string]string{"password": newPassword}, true, nil)
}

func (c *HTTPClient) DeleteUser(ctx context.Context, userID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, true, nil)
}

// doJSON issues a JSON request and optionally decodes the response into out.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, admin bool, out any) error {
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
		req.Header.Set("apikey", c.serviceRoleKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
