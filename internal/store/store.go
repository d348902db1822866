package store

import (
	"context"
	"errors"

	"github.com/arnevik/keyfort/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrLimitExceeded = errors.New("active record limit exceeded")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash *string) error
	// ReplaceUser deletes the user identified by oldID and inserts the
	// replacement in one transaction. Used when a delegate-confirmed
	// signup reconciles a drifted local record under the delegate's id.
	ReplaceUser(ctx context.Context, oldID uuid.UUID, user *models.User) error
	CountActiveSecrets(ctx context.Context, userID uuid.UUID) (int, error)

	// CreateSecretRecord inserts the record. A maxActive > 0 caps the
	// owner's active records: the count and insert happen atomically, and
	// ErrLimitExceeded is returned when the cap is already met. 0 means
	// no cap.
	CreateSecretRecord(ctx context.Context, rec *models.SecretRecord, maxActive int) error
	ListSecretRecords(ctx context.Context, userID uuid.UUID) ([]*models.SecretRecord, error)
	GetSecretRecord(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.SecretRecord, error)
	// UpdateSecretRecord rewrites the record's mutable columns and loads
	// the database-assigned updated_at back into rec.
	UpdateSecretRecord(ctx context.Context, rec *models.SecretRecord) error
	RevokeSecretRecord(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}
