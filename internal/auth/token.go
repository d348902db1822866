package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors for token verification. Handlers map both to 401; the
// split exists so expiry can be reported distinctly from tampering.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

const resetPurpose = "password_reset"

// TokenIssuer mints and verifies the stateless HS256 tokens used as
// bearer credentials and short-lived password-reset assertions.
type TokenIssuer struct {
	secret   []byte
	ttl      time.Duration
	resetTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and
// lifetimes for access and reset tokens.
func NewTokenIssuer(secret string, ttl, resetTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, resetTTL: resetTTL}
}

// Issue mints a bearer token bound to the user id.
func (t *TokenIssuer) Issue(userID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a bearer token and returns its subject. Reset tokens are
// rejected here; they only open the reset endpoint.
func (t *TokenIssuer) Verify(token string) (uuid.UUID, error) {
	claims, err := t.parse(token)
	if err != nil {
		return uuid.Nil, err
	}
	if purpose, _ := claims["purpose"].(string); purpose != "" {
		return uuid.Nil, ErrTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	return id, nil
}

// IssueReset mints a short-lived token authorizing a password reset for
// the given email.
func (t *TokenIssuer) IssueReset(email string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":     email,
		"purpose": resetPurpose,
		"iat":     now.Unix(),
		"exp":     now.Add(t.resetTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return signed, nil
}

// VerifyReset checks a reset token and returns the email it was issued for.
func (t *TokenIssuer) VerifyReset(token string) (string, error) {
	claims, err := t.parse(token)
	if err != nil {
		return "", err
	}
	if purpose, _ := claims["purpose"].(string); purpose != resetPurpose {
		return "", ErrTokenInvalid
	}
	email, _ := claims["sub"].(string)
	if email == "" {
		return "", ErrTokenInvalid
	}
	return email, nil
}

func (t *TokenIssuer) parse(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
