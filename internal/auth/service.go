// Package auth implements the hybrid authentication gateway: token
// lifecycle plus a delegate-first, local-fallback decision chain for
// signup, signin, and password reset.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arnevik/keyfort/internal/delegate"
	"github.com/arnevik/keyfort/internal/store"
	"github.com/arnevik/keyfort/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors; handlers map them to unauthorized responses without
// leaking which step failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// Credential sources reported in Result; used for logging only.
const (
	sourceDelegate = "delegate"
	sourceLocal    = "local"
)

// Service is the authentication gateway. The delegate is optional: nil
// means every operation runs against the local store only.
type Service struct {
	store      store.Store
	delegate   delegate.Client
	tokens     *TokenIssuer
	bcryptCost int
}

// Result is the outcome of a successful signup or signin.
type Result struct {
	Token  string
	User   *models.User
	Source string
}

// NewService creates the gateway. Pass a nil delegate when no external
// identity provider is configured.
func NewService(s store.Store, d delegate.Client, tokens *TokenIssuer, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{store: s, delegate: d, tokens: tokens, bcryptCost: bcryptCost}
}

// Signup registers a principal. The delegate is tried first when
// configured; any delegate failure falls back to local registration. A
// pre-existing local record with the same email is deleted and recreated,
// reconciling drift between the two stores.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*Result, error) {
	email = normalizeEmail(email)
	if name == "" {
		name = defaultName(email)
	}

	if s.delegate != nil {
		identity, err := s.delegate.CreateUser(ctx, email, password, name)
		if err == nil {
			return s.adoptIdentity(ctx, identity, email, name)
		}
		slog.Warn("delegate signup failed, falling back to local", "error", err)
	}

	// Local path. An existing record with this email is replaced rather
	// than rejected, and the delegate is asked to drop its stale account.
	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: &hashStr,
		Plan:         models.PlanFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if existing != nil {
		if err := s.store.ReplaceUser(ctx, existing.ID, user); err != nil {
			return nil, fmt.Errorf("replace user: %w", err)
		}
		slog.Info("replaced existing local user on signup", "email", email, "old_id", existing.ID, "new_id", user.ID)
		if s.delegate != nil {
			if err := s.delegate.DeleteUser(ctx, existing.ID.String()); err != nil {
				slog.Debug("delegate delete of stale account failed", "error", err)
			}
		}
	} else {
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, User: user, Source: sourceLocal}, nil
}

// Signin authenticates a principal. Delegate first when configured; on
// delegate unavailability or rejection the submitted password is checked
// against the local bcrypt hash.
func (s *Service) Signin(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)

	if s.delegate != nil {
		session, err := s.delegate.SignIn(ctx, email, password)
		if err == nil {
			res, err := s.signinByDelegate(ctx, session, email)
			if err == nil {
				return res, nil
			}
			slog.Warn("delegate session could not be adopted, falling back to local", "error", err)
		} else if errors.Is(err, delegate.ErrUnavailable) {
			slog.Warn("delegate unavailable, falling back to local", "error", err)
		} else {
			slog.Debug("delegate rejected signin, falling back to local", "error", err)
		}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == nil {
		// Credentials are delegate-owned and the delegate said no.
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, User: user, Source: sourceLocal}, nil
}

// RequestPasswordReset starts a reset flow. Both paths succeed so the
// HTTP surface stays identical whether or not the email exists; the
// returned token is empty when no local user matched and must never be
// written to the response. Delegate-side recovery email dispatch is
// fire-and-forget.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)

	if s.delegate != nil {
		if err := s.delegate.SendRecoveryEmail(ctx, email); err != nil {
			slog.Debug("delegate recovery email failed", "error", err)
		}
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	return s.tokens.IssueReset(email)
}

// ResetPassword consumes a reset token. Delegate-side password update is
// preferred when configured (clearing the local hash on success), with a
// local bcrypt rewrite as fallback.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	email, err := s.tokens.VerifyReset(token)
	if err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	if s.delegate != nil {
		delegateErr := s.delegate.UpdatePassword(ctx, user.ID.String(), newPassword)
		if delegateErr == nil {
			// Delegate now owns the credential; drop the local hash.
			return s.store.UpdateUserPassword(ctx, user.ID, nil)
		}
		slog.Warn("delegate password update failed, rewriting local hash", "error", delegateErr)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)
	return s.store.UpdateUserPassword(ctx, user.ID, &hashStr)
}

// VerifyAccess validates a bearer token and resolves its subject.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*models.User, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// adoptIdentity makes sure a delegate-confirmed identity has a local
// principal record keyed by the delegate's id, replacing a drifted local
// record if one exists, and issues a token for it.
func (s *Service) adoptIdentity(ctx context.Context, identity *delegate.Identity, email, name string) (*Result, error) {
	delegateID, err := uuid.Parse(identity.ID)
	if err != nil {
		return nil, fmt.Errorf("delegate returned non-uuid id %q", identity.ID)
	}
	if identity.Metadata.Name != "" {
		name = identity.Metadata.Name
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:            delegateID,
		Email:         email,
		Name:          name,
		PasswordHash:  nil, // delegate owns the credential
		Plan:          models.PlanFree,
		EmailVerified: identity.ConfirmedAt != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("lookup user: %w", err)
	case existing.ID == delegateID:
		user = existing
	default:
		// Local record predates delegation under a different id; recreate
		// it under the delegate-confirmed identifier.
		if err := s.store.ReplaceUser(ctx, existing.ID, user); err != nil {
			return nil, fmt.Errorf("replace user: %w", err)
		}
		slog.Info("reconciled local user under delegate id",
			"email", email, "old_id", existing.ID, "new_id", delegateID)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, User: user, Source: sourceDelegate}, nil
}

// signinByDelegate ensures a local shadow record exists for a delegate
// session and issues a local token for it.
func (s *Service) signinByDelegate(ctx context.Context, session *delegate.Session, email string) (*Result, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		identity, err := s.delegate.UserFromToken(ctx, session.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("fetch delegate identity: %w", err)
		}
		res, err := s.adoptIdentity(ctx, identity, email, defaultName(email))
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, User: user, Source: sourceDelegate}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func defaultName(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
