package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corepay/stepup/pkg/domain"
)

// ReplayRepository persists accepted-code records. The expires_at predicate
// is part of every lookup, so correctness never depends on sweep cadence.
type ReplayRepository struct {
	db *sql.DB
}

// NewReplayRepository creates a new replay repository.
func NewReplayRepository(db *sql.DB) *ReplayRepository {
	return &ReplayRepository{db: db}
}

// WasAccepted reports whether the tuple was accepted before and is still
// inside its validity window.
func (r *ReplayRepository) WasAccepted(ctx context.Context, scope, codeHash string, timeStep int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM replay_records
			WHERE scope = $1 AND code_hash = $2 AND time_step = $3 AND expires_at > NOW()
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, scope, codeHash, timeStep).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return exists, nil
}

// RecordAccepted stores an accepted tuple until its validity window elapses.
func (r *ReplayRepository) RecordAccepted(ctx context.Context, scope, codeHash string, timeStep int64, ttl time.Duration) error {
	query := `
		INSERT INTO replay_records (scope, code_hash, time_step, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, code_hash, time_step) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, scope, codeHash, timeStep, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return nil
}

// Sweep removes expired rows. Purely housekeeping; lookups already exclude
// expired records.
func (r *ReplayRepository) Sweep(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM replay_records WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep replay records: %w", err)
	}
	return result.RowsAffected()
}
