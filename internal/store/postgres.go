package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnevik/keyfort/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, name, password_hash, plan, stripe_id, email_verified, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Plan,
		&u.StripeID, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, plan, stripe_id, email_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Plan,
		user.StripeID, user.EmailVerified, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, err
}

// UpdateUserPassword sets or clears the local password hash. A nil hash
// marks the user's credentials as owned by the delegate.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceUser(ctx context.Context, oldID uuid.UUID, user *models.User) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, oldID); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, name, password_hash, plan, stripe_id, email_verified, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			user.ID, user.Email, user.Name, user.PasswordHash, user.Plan,
			user.StripeID, user.EmailVerified, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert replacement user: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrDuplicateKey) {
		return fmt.Errorf("replace user: %w", err)
	}
	return err
}

func (s *PostgresStore) CountActiveSecrets(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM secret_records WHERE user_id = $1 AND revoked = FALSE`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active secrets: %w", err)
	}
	return count, nil
}

// --- Secret records ---

const secretColumns = `id, user_id, name, provider, provider_config, prefix, last4, ciphertext, nonce, hash, revoked, created_at, updated_at`

func scanSecret(row pgx.Row) (*models.SecretRecord, error) {
	var r models.SecretRecord
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Provider, &r.ProviderConfig,
		&r.Prefix, &r.Last4, &r.Ciphertext, &r.Nonce, &r.Hash, &r.Revoked,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateSecretRecord inserts the record. The unique constraint on hash
// makes the duplicate check atomic. When maxActive > 0 the owner row is
// locked for the transaction, so two concurrent creates serialize on the
// count and cannot both slip under the cap.
func (s *PostgresStore) CreateSecretRecord(ctx context.Context, rec *models.SecretRecord, maxActive int) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if maxActive > 0 {
			var ownerID uuid.UUID
			err := tx.QueryRow(ctx,
				`SELECT id FROM users WHERE id = $1 FOR UPDATE`, rec.UserID).Scan(&ownerID)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock user: %w", err)
			}

			var count int
			err = tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM secret_records WHERE user_id = $1 AND revoked = FALSE`,
				rec.UserID).Scan(&count)
			if err != nil {
				return fmt.Errorf("count active secrets: %w", err)
			}
			if count >= maxActive {
				return ErrLimitExceeded
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO secret_records (id, user_id, name, provider, provider_config, prefix, last4, ciphertext, nonce, hash, revoked, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			rec.ID, rec.UserID, rec.Name, rec.Provider, rec.ProviderConfig,
			rec.Prefix, rec.Last4, rec.Ciphertext, rec.Nonce, rec.Hash,
			rec.Revoked, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert secret record: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrDuplicateKey) && !errors.Is(err, ErrLimitExceeded) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("create secret record: %w", err)
	}
	return err
}

func (s *PostgresStore) ListSecretRecords(ctx context.Context, userID uuid.UUID) ([]*models.SecretRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+secretColumns+`
		 FROM secret_records WHERE user_id = $1 AND revoked = FALSE ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list secret records: %w", err)
	}
	defer rows.Close()

	var records []*models.SecretRecord
	for rows.Next() {
		r, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetSecretRecord(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.SecretRecord, error) {
	r, err := scanSecret(s.pool.QueryRow(ctx,
		`SELECT `+secretColumns+`
		 FROM secret_records WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get secret record: %w", err)
	}
	return r, err
}

// UpdateSecretRecord rewrites all mutable columns of a non-revoked record
// in one statement, so a rotation never leaves ciphertext without its
// nonce. The database-assigned updated_at is loaded back into rec so the
// caller never reports a timestamp that differs from the stored row.
func (s *PostgresStore) UpdateSecretRecord(ctx context.Context, rec *models.SecretRecord) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE secret_records
		 SET name = $3, provider = $4, provider_config = $5, prefix = $6, last4 = $7,
		     ciphertext = $8, nonce = $9, hash = $10, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND revoked = FALSE
		 RETURNING updated_at`,
		rec.ID, rec.UserID, rec.Name, rec.Provider, rec.ProviderConfig,
		rec.Prefix, rec.Last4, rec.Ciphertext, rec.Nonce, rec.Hash).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update secret record: %w", err)
	}
	return nil
}

// RevokeSecretRecord sets the tombstone. Revoking an already-revoked
// record is a no-op that still succeeds; an id the caller doesn't own is
// indistinguishable from a missing one.
func (s *PostgresStore) RevokeSecretRecord(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE secret_records SET revoked = TRUE, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND revoked = FALSE`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke secret record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "already revoked" (idempotent success) from "not owned".
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM secret_records WHERE id = $1 AND user_id = $2)`,
			id, userID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("revoke secret record: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
