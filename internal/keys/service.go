// Package keys implements the secret vault: creation, listing, rotation,
// one-time reveal, and revocation of encrypted third-party credentials.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arnevik/keyfort/internal/crypto"
	"github.com/arnevik/keyfort/internal/store"
	"github.com/arnevik/keyfort/pkg/models"
	"github.com/google/uuid"
)

// Sentinel errors; handlers map them to client responses.
var (
	// ErrDuplicateSecret means the plaintext is already stored (matched by
	// hash, without decryption). Recoverable by choosing different content.
	ErrDuplicateSecret = errors.New("secret already exists")
	// ErrNotFound covers both a missing record and one owned by someone
	// else, so existence is never leaked.
	ErrNotFound = errors.New("secret record not found")
	// ErrProviderConfig means the structured provider configuration is
	// missing where required or is not valid JSON.
	ErrProviderConfig = errors.New("invalid provider config")
	// ErrPlanLimit means the owner's plan does not allow more active keys.
	ErrPlanLimit = errors.New("plan limit reached")
)

const freePlanMaxActiveKeys = 3

// Service manages secret records for authenticated principals.
type Service struct {
	store store.Store
	vault *crypto.Vault
}

// NewService creates a secret record service.
func NewService(s store.Store, v *crypto.Vault) *Service {
	return &Service{store: s, vault: v}
}

// CreateParams are the inputs for Create. Value is optional: when empty,
// or when the provider kind is delegated (SUPABASE), a key is generated.
type CreateParams struct {
	Name           string
	Provider       string
	ProviderConfig *string
	Value          string
}

// Create encrypts and persists a new secret record. The returned
// plaintext is shown to the caller exactly once; afterwards it is only
// reachable through Reveal.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, p CreateParams) (*models.SecretRecord, string, error) {
	provider := p.Provider
	if provider == "" {
		provider = models.ProviderCustom
	}
	if err := validateProviderConfig(provider, p.ProviderConfig); err != nil {
		return nil, "", err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	maxActive := 0
	if user.Plan == models.PlanFree {
		maxActive = freePlanMaxActiveKeys
	}

	plaintext := p.Value
	if provider == models.ProviderSupabase || plaintext == "" {
		plaintext = crypto.GenerateKey()
	}

	ciphertext, nonce, err := s.vault.Encrypt(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt secret: %w", err)
	}

	prefix, last4 := crypto.SplitDisplay(plaintext)
	now := time.Now().UTC()
	rec := &models.SecretRecord{
		ID:             uuid.New(),
		UserID:         userID,
		Name:           p.Name,
		Provider:       provider,
		ProviderConfig: p.ProviderConfig,
		Prefix:         prefix,
		Last4:          last4,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Hash:           crypto.HashKey(plaintext),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Both the duplicate check (hash unique constraint) and the plan cap
	// are enforced inside the store, atomically under concurrent creates.
	if err := s.store.CreateSecretRecord(ctx, rec, maxActive); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, "", ErrDuplicateSecret
		case errors.Is(err, store.ErrLimitExceeded):
			return nil, "", ErrPlanLimit
		}
		return nil, "", fmt.Errorf("create secret record: %w", err)
	}

	return rec, plaintext, nil
}

// List returns the owner's active (non-revoked) records, newest first.
// Plaintext and ciphertext never appear in listings.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*models.SecretRecord, error) {
	records, err := s.store.ListSecretRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list secret records: %w", err)
	}
	if records == nil {
		records = []*models.SecretRecord{}
	}
	return records, nil
}

// UpdateParams are the inputs for Update; nil fields are left unchanged.
type UpdateParams struct {
	Name           *string
	Provider       *string
	ProviderConfig *string
	Value          *string
}

// Update edits metadata and, when a new value is supplied for a
// non-delegated kind, rotates the secret in place: new hash, prefix,
// last4, ciphertext, and nonce under the same identifier. The rotated
// plaintext is returned once, or "" when no rotation happened.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, p UpdateParams) (*models.SecretRecord, string, error) {
	rec, err := s.store.GetSecretRecord(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get secret record: %w", err)
	}
	if rec.Revoked {
		return nil, "", ErrNotFound
	}

	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Provider != nil && *p.Provider != "" {
		rec.Provider = *p.Provider
	}
	if p.ProviderConfig != nil {
		rec.ProviderConfig = p.ProviderConfig
	}
	if err := validateProviderConfig(rec.Provider, rec.ProviderConfig); err != nil {
		return nil, "", err
	}

	var rotated string
	if p.Value != nil && *p.Value != "" && rec.Provider != models.ProviderSupabase {
		plaintext := *p.Value
		ciphertext, nonce, err := s.vault.Encrypt(plaintext)
		if err != nil {
			return nil, "", fmt.Errorf("encrypt secret: %w", err)
		}
		rec.Prefix, rec.Last4 = crypto.SplitDisplay(plaintext)
		rec.Ciphertext = ciphertext
		rec.Nonce = nonce
		rec.Hash = crypto.HashKey(plaintext)
		rotated = plaintext
	}

	if err := s.store.UpdateSecretRecord(ctx, rec); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, "", ErrDuplicateSecret
		case errors.Is(err, store.ErrNotFound):
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("update secret record: %w", err)
	}

	return rec, rotated, nil
}

// Reveal decrypts and returns the plaintext of one active record. Each
// reveal is a discrete operation; decrypted material is never cached.
func (s *Service) Reveal(ctx context.Context, userID, id uuid.UUID) (*models.SecretRecord, string, error) {
	rec, err := s.store.GetSecretRecord(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get secret record: %w", err)
	}
	if rec.Revoked {
		return nil, "", ErrNotFound
	}

	plaintext, err := s.vault.Decrypt(rec.Ciphertext, rec.Nonce)
	if err != nil {
		// Tag mismatch means tampering or a key rollover gone wrong;
		// propagate, never return partial data.
		return nil, "", fmt.Errorf("decrypt secret record %s: %w", rec.ID, err)
	}

	return rec, plaintext, nil
}

// Revoke tombstones a record. The flag is one-way: revoking an already
// revoked record succeeds without changing state, but an unknown or
// unowned id reports ErrNotFound.
func (s *Service) Revoke(ctx context.Context, userID, id uuid.UUID) error {
	err := s.store.RevokeSecretRecord(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke secret record: %w", err)
	}
	return nil
}

func validateProviderConfig(provider string, cfg *string) error {
	if provider == models.ProviderSupabase && cfg == nil {
		return fmt.Errorf("%w: provider_config is required for %s", ErrProviderConfig, provider)
	}
	if cfg != nil && !json.Valid([]byte(*cfg)) {
		return fmt.Errorf("%w: provider_config must be valid JSON", ErrProviderConfig)
	}
	return nil
}
