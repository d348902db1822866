package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/arnevik/keyfort/internal/delegate"
	"github.com/arnevik/keyfort/internal/store"
	"github.com/arnevik/keyfort/pkg/models"
)

// fakeStore is an in-memory store.Store for gateway tests.
type fakeStore struct {
	users map[uuid.UUID]*models.User

	replacedOldID *uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[uuid.UUID]*models.User)}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user *models.User) error {
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrDuplicateKey
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash *string) error {
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) ReplaceUser(ctx context.Context, oldID uuid.UUID, user *models.User) error {
	if _, ok := f.users[oldID]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, oldID)
	cp := *user
	f.users[user.ID] = &cp
	f.replacedOldID = &oldID
	return nil
}

func (f *fakeStore) CountActiveSecrets(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeStore) CreateSecretRecord(ctx context.Context, rec *models.SecretRecord, maxActive int) error {
	return nil
}

func (f *fakeStore) ListSecretRecords(ctx context.Context, userID uuid.UUID) ([]*models.SecretRecord, error) {
	return nil, nil
}

func (f *fakeStore) GetSecretRecord(ctx context.Context, id, userID uuid.UUID) (*models.SecretRecord, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateSecretRecord(ctx context.Context, rec *models.SecretRecord) error {
	return store.ErrNotFound
}

func (f *fakeStore) RevokeSecretRecord(ctx context.Context, id, userID uuid.UUID) error {
	return store.ErrNotFound
}

// fakeDelegate implements delegate.Client with per-call overrides. The
// zero value reports ErrUnavailable for everything.
type fakeDelegate struct {
	createUser    func(email, password, name string) (*delegate.Identity, error)
	signIn        func(email, password string) (*delegate.Session, error)
	userFromToken func(token string) (*delegate.Identity, error)

	recoveryEmails []string
	updatedUserIDs []string
	deletedUserIDs []string
}

func (f *fakeDelegate) CreateUser(ctx context.Context, email, password, name string) (*delegate.Identity, error) {
	if f.createUser == nil {
		return nil, delegate.ErrUnavailable
	}
	return f.createUser(email, password, name)
}

func (f *fakeDelegate) SignIn(ctx context.Context, email, password string) (*delegate.Session, error) {
	if f.signIn == nil {
		return nil, delegate.ErrUnavailable
	}
	return f.signIn(email, password)
}

func (f *fakeDelegate) UserFromToken(ctx context.Context, accessToken string) (*delegate.Identity, error) {
	if f.userFromToken == nil {
		return nil, delegate.ErrUnavailable
	}
	return f.userFromToken(accessToken)
}

func (f *fakeDelegate) SendRecoveryEmail(ctx context.Context, email string) error {
	f.recoveryEmails = append(f.recoveryEmails, email)
	return nil
}

func (f *fakeDelegate) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	f.updatedUserIDs = append(f.updatedUserIDs, userID)
	return nil
}

func (f *fakeDelegate) DeleteUser(ctx context.Context, userID string) error {
	f.deletedUserIDs = append(f.deletedUserIDs, userID)
	return nil
}

func newTestService(t *testing.T, s store.Store, d delegate.Client) *Service {
	t.Helper()
	tokens := NewTokenIssuer("test-secret", time.Hour, 15*time.Minute)
	return NewService(s, d, tokens, bcrypt.MinCost)
}

func TestSignup_LocalOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	res, err := svc.Signup(context.Background(), "Alice@Example.com ", "Secret123!", "Alice")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, "Alice", res.User.Name)
	assert.Equal(t, models.PlanFree, res.User.Plan)
	assert.Equal(t, "local", res.Source)
	require.NotNil(t, res.User.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*res.User.PasswordHash), []byte("Secret123!")))

	got, err := svc.VerifyAccess(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, got.ID)
}

func TestSignup_DefaultsNameFromEmail(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	res, err := svc.Signup(context.Background(), "bob@example.com", "password123", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.User.Name)
}

func TestSignup_DelegateConfirmed(t *testing.T) {
	fs := newFakeStore()
	delegateID := uuid.New()
	fd := &fakeDelegate{
		createUser: func(email, password, name string) (*delegate.Identity, error) {
			id := &delegate.Identity{ID: delegateID.String(), Email: email, ConfirmedAt: "2026-01-01T00:00:00Z"}
			id.Metadata.Name = name
			return id, nil
		},
	}
	svc := newTestService(t, fs, fd)

	res, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	assert.Equal(t, "delegate", res.Source)
	assert.Equal(t, delegateID, res.User.ID)
	assert.Nil(t, res.User.PasswordHash)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, models.CredentialSourceDelegated, res.User.CredentialSource())

	stored, err := fs.GetUserByID(context.Background(), delegateID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Email)
}

func TestSignup_DelegateDownFallsBackToLocal(t *testing.T) {
	fs := newFakeStore()
	fd := &fakeDelegate{} // every call reports ErrUnavailable
	svc := newTestService(t, fs, fd)

	res, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	assert.Equal(t, "local", res.Source)
	require.NotNil(t, res.User.PasswordHash)
	assert.Equal(t, models.CredentialSourceLocal, res.User.CredentialSource())
}

func TestSignup_ReplacesExistingLocalRecord(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	first, err := svc.Signup(context.Background(), "alice@example.com", "OldSecret1!", "Alice")
	require.NoError(t, err)

	second, err := svc.Signup(context.Background(), "alice@example.com", "NewSecret2!", "Alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.User.ID, second.User.ID)
	require.NotNil(t, fs.replacedOldID)
	assert.Equal(t, first.User.ID, *fs.replacedOldID)

	// Only the new credential works now.
	_, err = svc.Signin(context.Background(), "alice@example.com", "OldSecret1!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := svc.Signin(context.Background(), "alice@example.com", "NewSecret2!")
	require.NoError(t, err)
	assert.Equal(t, second.User.ID, res.User.ID)
}

func TestSignup_DelegateReconcilesDriftedLocalRecord(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	local, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	delegateID := uuid.New()
	fd := &fakeDelegate{
		createUser: func(email, password, name string) (*delegate.Identity, error) {
			return &delegate.Identity{ID: delegateID.String(), Email: email}, nil
		},
	}
	svc = newTestService(t, fs, fd)

	res, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	assert.Equal(t, delegateID, res.User.ID)
	require.NotNil(t, fs.replacedOldID)
	assert.Equal(t, local.User.ID, *fs.replacedOldID)
	_, err = fs.GetUserByID(context.Background(), local.User.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignin_Local(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	signup, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	res, err := svc.Signin(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, res.User.ID)
	assert.Equal(t, "local", res.Source)

	got, err := svc.VerifyAccess(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, got.ID)
}

func TestSignin_WrongPassword(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	_, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	_, err = svc.Signin(context.Background(), "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignin_UnknownEmail(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	_, err := svc.Signin(context.Background(), "nobody@example.com", "whatever123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignin_DelegateOwnedCredentialRejectedLocally(t *testing.T) {
	fs := newFakeStore()
	// Delegate-owned record: no local hash.
	user := &models.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice", Plan: models.PlanFree}
	require.NoError(t, fs.CreateUser(context.Background(), user))

	// Delegate configured but rejecting.
	fd := &fakeDelegate{
		signIn: func(email, password string) (*delegate.Session, error) {
			return nil, delegate.ErrRejected
		},
	}
	svc := newTestService(t, fs, fd)

	_, err := svc.Signin(context.Background(), "alice@example.com", "whatever123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignin_DelegateSession(t *testing.T) {
	fs := newFakeStore()
	user := &models.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice", Plan: models.PlanFree}
	require.NoError(t, fs.CreateUser(context.Background(), user))

	fd := &fakeDelegate{
		signIn: func(email, password string) (*delegate.Session, error) {
			return &delegate.Session{AccessToken: "delegate-token", TokenType: "bearer"}, nil
		},
	}
	svc := newTestService(t, fs, fd)

	res, err := svc.Signin(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, "delegate", res.Source)
	assert.Equal(t, user.ID, res.User.ID)
}

func TestSignin_DelegateSessionCreatesShadowRecord(t *testing.T) {
	fs := newFakeStore()
	delegateID := uuid.New()
	fd := &fakeDelegate{
		signIn: func(email, password string) (*delegate.Session, error) {
			return &delegate.Session{AccessToken: "delegate-token"}, nil
		},
		userFromToken: func(token string) (*delegate.Identity, error) {
			return &delegate.Identity{ID: delegateID.String(), Email: "alice@example.com"}, nil
		},
	}
	svc := newTestService(t, fs, fd)

	res, err := svc.Signin(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, delegateID, res.User.ID)
	assert.Nil(t, res.User.PasswordHash)

	_, err = fs.GetUserByID(context.Background(), delegateID)
	assert.NoError(t, err)
}

func TestSignin_DelegateDownFallsBackToLocal(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)
	_, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	svc = newTestService(t, fs, &fakeDelegate{})
	res, err := svc.Signin(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, "local", res.Source)
}

func TestRequestPasswordReset_UnknownEmail(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestResetPassword_FullFlow(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	_, err := svc.Signup(context.Background(), "alice@example.com", "OldSecret1!", "Alice")
	require.NoError(t, err)

	token, err := svc.RequestPasswordReset(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.ResetPassword(context.Background(), token, "NewSecret2!"))

	_, err = svc.Signin(context.Background(), "alice@example.com", "OldSecret1!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Signin(context.Background(), "alice@example.com", "NewSecret2!")
	assert.NoError(t, err)
}

func TestResetPassword_DelegateTakesOwnership(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	signup, err := svc.Signup(context.Background(), "alice@example.com", "OldSecret1!", "Alice")
	require.NoError(t, err)

	token, err := svc.RequestPasswordReset(context.Background(), "alice@example.com")
	require.NoError(t, err)

	fd := &fakeDelegate{}
	svc = newTestService(t, fs, fd)
	require.NoError(t, svc.ResetPassword(context.Background(), token, "NewSecret2!"))

	assert.Equal(t, []string{signup.User.ID.String()}, fd.updatedUserIDs)
	stored, err := fs.GetUserByID(context.Background(), signup.User.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordHash)
}

func TestResetPassword_BearerTokenRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	signup, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	err = svc.ResetPassword(context.Background(), signup.Token, "NewSecret2!")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAccess_DeletedUser(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	signup, err := svc.Signup(context.Background(), "alice@example.com", "Secret123!", "Alice")
	require.NoError(t, err)

	delete(fs.users, signup.User.ID)

	_, err = svc.VerifyAccess(context.Background(), signup.Token)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyAccess_Garbage(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)

	_, err := svc.VerifyAccess(context.Background(), "garbage")
	assert.True(t, errors.Is(err, ErrTokenInvalid))
}
