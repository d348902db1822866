package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PlanFree = "FREE"
	PlanPro  = "PRO"
)

// Credential sources for a user. A user has exactly one source of truth
// for authentication at any time: a local bcrypt hash, or the delegate.
const (
	CredentialSourceLocal     = "local"
	CredentialSourceDelegated = "delegated"
)

// User is a principal that owns secret records. PasswordHash is nil when
// credentials are owned by the identity delegate.
type User struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	Email         string    `db:"email"          json:"email"`
	Name          string    `db:"name"           json:"name"`
	PasswordHash  *string   `db:"password_hash"  json:"-"`
	Plan          string    `db:"plan"           json:"plan"`
	StripeID      *string   `db:"stripe_id"      json:"stripe_id,omitempty"`
	EmailVerified bool      `db:"email_verified" json:"email_verified"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// CredentialSource reports where this user's password lives.
func (u *User) CredentialSource() string {
	if u.PasswordHash == nil {
		return CredentialSourceDelegated
	}
	return CredentialSourceLocal
}
