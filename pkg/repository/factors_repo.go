package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// FactorsRepository handles database operations for auth factors. Enable and
// Disable touch the recovery code table in the same transaction so the
// factor state and the code set can never diverge.
type FactorsRepository struct {
	db *sql.DB
}

// NewFactorsRepository creates a new factors repository.
func NewFactorsRepository(db *sql.DB) *FactorsRepository {
	return &FactorsRepository{db: db}
}

// Get retrieves the factor for a user.
func (r *FactorsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.AuthFactor, error) {
	query := `
		SELECT user_id, status, secret_sealed, last_verified_at, created_at, updated_at
		FROM auth_factors
		WHERE user_id = $1
	`

	factor := &domain.AuthFactor{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&factor.UserID,
		&factor.Status,
		&factor.SecretSealed,
		&factor.LastVerifiedAt,
		&factor.CreatedAt,
		&factor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrFactorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth factor: %w", err)
	}
	return factor, nil
}

// SavePending upserts a factor in pending_enrollment state, overwriting any
// prior pending secret.
func (r *FactorsRepository) SavePending(ctx context.Context, factor *domain.AuthFactor) error {
	query := `
		INSERT INTO auth_factors (user_id, status, secret_sealed, last_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET status = EXCLUDED.status,
		    secret_sealed = EXCLUDED.secret_sealed,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		factor.UserID,
		domain.FactorPendingEnrollment,
		factor.SecretSealed,
		factor.CreatedAt,
		factor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pending factor: %w", err)
	}
	return nil
}

// Enable flips a pending factor to enabled and installs the fresh recovery
// code set in one transaction.
func (r *FactorsRepository) Enable(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE auth_factors
			SET status = $2, updated_at = NOW()
			WHERE user_id = $1 AND status = $3
		`, userID, domain.FactorEnabled, domain.FactorPendingEnrollment)
		if err != nil {
			return fmt.Errorf("failed to enable factor: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrNoPendingEnrollment
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete existing recovery codes: %w", err)
		}
		return insertRecoveryCodes(ctx, tx, codes)
	})
}

// Disable clears the secret, marks the factor disabled and removes every
// recovery code, in one transaction.
func (r *FactorsRepository) Disable(ctx context.Context, userID uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE auth_factors
			SET status = $2, secret_sealed = '', updated_at = NOW()
			WHERE user_id = $1
		`, userID, domain.FactorDisabled); err != nil {
			return fmt.Errorf("failed to disable factor: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete recovery codes: %w", err)
		}
		return nil
	})
}

// TouchVerified records a successful step-up verification.
func (r *FactorsRepository) TouchVerified(ctx context.Context, userID uuid.UUID, at time.Time) error {
	query := `
		UPDATE auth_factors
		SET last_verified_at = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last verified: %w", err)
	}
	return nil
}

func insertRecoveryCodes(ctx context.Context, tx *sql.Tx, codes []*domain.RecoveryCode) error {
	if len(codes) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mfa_recovery_codes (id, user_id, code_hash, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, code := range codes {
		if _, err := stmt.ExecContext(ctx,
			code.ID,
			code.UserID,
			code.CodeHash,
			code.UsedAt,
			code.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert recovery code: %w", err)
		}
	}
	return nil
}
