package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// FactorStore persists per-user secret material and enrollment state.
// Implementations live in pkg/repository.
type FactorStore interface {
	// Get returns the factor for a user, or domain.ErrFactorNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*domain.AuthFactor, error)

	// SavePending upserts a factor in PendingEnrollment state, overwriting
	// any prior pending secret.
	SavePending(ctx context.Context, factor *domain.AuthFactor) error

	// Enable atomically flips a pending factor to Enabled and installs the
	// fresh recovery code set. Returns domain.ErrNoPendingEnrollment when
	// no pending factor exists.
	Enable(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error

	// Disable clears the secret, marks the factor disabled and invalidates
	// every recovery code, atomically.
	Disable(ctx context.Context, userID uuid.UUID) error

	// TouchVerified records a successful step-up verification.
	TouchVerified(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// RecoveryCodeStore persists hashed single-use recovery codes.
type RecoveryCodeStore interface {
	// Replace atomically swaps the user's entire code set.
	Replace(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error

	// ListUnused returns the user's unconsumed codes.
	ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error)

	// MarkUsed consumes a single code. Returns domain.ErrInvalidCode if the
	// code was already consumed.
	MarkUsed(ctx context.Context, id uuid.UUID) error

	// CountUnused returns how many codes remain.
	CountUnused(ctx context.Context, userID uuid.UUID) (int, error)
}

// PolicyStore loads security policies. The platform singleton has a nil
// tenant id.
type PolicyStore interface {
	GetPlatform(ctx context.Context) (*domain.SecurityPolicy, error)
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.SecurityPolicy, error)
}
