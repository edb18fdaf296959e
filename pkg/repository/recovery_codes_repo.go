package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// RecoveryCodesRepository handles database operations for MFA recovery codes.
type RecoveryCodesRepository struct {
	db *sql.DB
}

// NewRecoveryCodesRepository creates a new recovery codes repository.
func NewRecoveryCodesRepository(db *sql.DB) *RecoveryCodesRepository {
	return &RecoveryCodesRepository{db: db}
}

// Replace atomically swaps the user's entire code set, invalidating every
// previously issued code.
func (r *RecoveryCodesRepository) Replace(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete existing recovery codes: %w", err)
		}
		return insertRecoveryCodes(ctx, tx, codes)
	})
}

// ListUnused returns the user's unconsumed recovery codes.
func (r *RecoveryCodesRepository) ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM mfa_recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []*domain.RecoveryCode
	for rows.Next() {
		code := &domain.RecoveryCode{}
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.UsedAt, &code.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recovery code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recovery codes: %w", err)
	}
	return codes, nil
}

// MarkUsed consumes a single recovery code. The used_at guard makes the
// consume idempotent under a double-submission race: the loser sees zero
// rows and the code stays spent.
func (r *RecoveryCodesRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE mfa_recovery_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark recovery code as used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInvalidCode
	}
	return nil
}

// CountUnused returns the number of unused recovery codes for a user.
func (r *RecoveryCodesRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM mfa_recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unused recovery codes: %w", err)
	}
	return count, nil
}
