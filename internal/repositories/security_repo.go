package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tilerush/backend/internal/models"
)

type SecurityRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityRepo(pool *pgxpool.Pool) *SecurityRepo {
	return &SecurityRepo{pool: pool}
}

const securityColumns = `user_id, totp_secret_encrypted, two_factor_enabled, two_factor_methods,
	public_key, email_verified, phone_number, phone_verified, seed_backed_up,
	recovery_abuse_flag, created_at, updated_at`

func scanSecurity(row pgx.Row) (*models.UserSecurity, error) {
	var s models.UserSecurity
	err := row.Scan(&s.UserID, &s.TOTPSecretEncrypted, &s.TwoFactorEnabled, &s.TwoFactorMethods,
		&s.PublicKey, &s.EmailVerified, &s.PhoneNumber, &s.PhoneVerified, &s.SeedBackedUp,
		&s.RecoveryAbuseFlag, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns nil, nil when the user has no security row yet.
func (r *SecurityRepo) Get(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error) {
	s, err := scanSecurity(r.pool.QueryRow(ctx, `
		SELECT `+securityColumns+` FROM user_security WHERE user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *SecurityRepo) ensureRow(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_security (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *SecurityRepo) SetPublicKey(ctx context.Context, userID uuid.UUID, publicKey string) error {
	if err := r.ensureRow(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE user_security SET public_key = $2, updated_at = now() WHERE user_id = $1
	`, userID, publicKey)
	return err
}

// SetTOTPSecret stores the encrypted secret without enabling the method.
// Enrollment completes through AddMethod once the user proves possession
// with a first valid code.
func (r *SecurityRepo) SetTOTPSecret(ctx context.Context, userID uuid.UUID, secretEncrypted []byte) error {
	if err := r.ensureRow(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE user_security SET totp_secret_encrypted = $2, updated_at = now() WHERE user_id = $1
	`, userID, secretEncrypted)
	return err
}

func (r *SecurityRepo) AddMethod(ctx context.Context, userID uuid.UUID, method string) error {
	if err := r.ensureRow(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE user_security
		SET two_factor_enabled = true,
		    two_factor_methods = array_append(array_remove(two_factor_methods, $2), $2),
		    updated_at = now()
		WHERE user_id = $1
	`, userID, method)
	return err
}

func (r *SecurityRepo) SetSeedBackedUp(ctx context.Context, userID uuid.UUID) error {
	if err := r.ensureRow(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE user_security SET seed_backed_up = true, updated_at = now() WHERE user_id = $1
	`, userID)
	return err
}

// SetRecoveryAbuseFlag marks the account after the rolling recovery cap is hit.
func (r *SecurityRepo) SetRecoveryAbuseFlag(ctx context.Context, userID uuid.UUID) error {
	if err := r.ensureRow(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE user_security SET recovery_abuse_flag = true, updated_at = now() WHERE user_id = $1
	`, userID)
	return err
}
