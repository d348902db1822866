package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider kinds. This is an open set: the two constants below are the
// ones the API treats specially, but any non-empty string is stored as-is
// so new provider integrations don't require a schema change.
const (
	ProviderCustom   = "CUSTOM"
	ProviderSupabase = "SUPABASE"
)

// SecretRecord is a managed third-party API credential. The plaintext is
// shown once at creation (and on explicit reveal); at rest only the
// AES-GCM ciphertext, nonce, and a SHA-256 hash are stored. The hash is
// globally unique so the same plaintext can never be stored twice.
type SecretRecord struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	UserID         uuid.UUID `db:"user_id"         json:"-"`
	Name           string    `db:"name"            json:"name"`
	Provider       string    `db:"provider"        json:"provider"`
	ProviderConfig *string   `db:"provider_config" json:"provider_config,omitempty"`
	Prefix         string    `db:"prefix"          json:"prefix"`
	Last4          string    `db:"last4"           json:"last4"`
	Ciphertext     []byte    `db:"ciphertext"      json:"-"`
	Nonce          []byte    `db:"nonce"           json:"-"`
	Hash           string    `db:"hash"            json:"-"`
	Revoked        bool      `db:"revoked"         json:"revoked"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}
