package domain

import (
	"time"

	"github.com/google/uuid"
)

// FactorStatus represents the lifecycle state of a user's authentication factor.
type FactorStatus string

const (
	// FactorUnenrolled is the initial state: no secret material exists.
	FactorUnenrolled FactorStatus = "unenrolled"
	// FactorPendingEnrollment means a secret has been issued but never confirmed.
	FactorPendingEnrollment FactorStatus = "pending_enrollment"
	// FactorEnabled means enrollment was confirmed with a valid code.
	FactorEnabled FactorStatus = "enabled"
	// FactorDisabled means the factor was explicitly disabled; secret material is cleared.
	FactorDisabled FactorStatus = "disabled"
)

// CanTransition reports whether the status may move to next.
// The only path to Enabled is through PendingEnrollment (a confirmed code);
// re-beginning enrollment while pending simply overwrites the pending secret.
func (s FactorStatus) CanTransition(next FactorStatus) bool {
	switch s {
	case FactorUnenrolled:
		return next == FactorPendingEnrollment
	case FactorPendingEnrollment:
		return next == FactorPendingEnrollment || next == FactorEnabled
	case FactorEnabled:
		return next == FactorDisabled
	case FactorDisabled:
		return next == FactorPendingEnrollment
	}
	return false
}

// AuthFactor holds a user's TOTP secret material and enrollment state.
// The secret is sealed (AES-256-GCM) before it ever reaches a store.
type AuthFactor struct {
	UserID         uuid.UUID
	Status         FactorStatus
	SecretSealed   string
	LastVerifiedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Enabled reports whether the factor can satisfy a step-up challenge.
func (f *AuthFactor) Enabled() bool {
	return f != nil && f.Status == FactorEnabled
}

// RecoveryCode is a hashed single-use backup credential.
type RecoveryCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string // Argon2id hash
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed returns true if the recovery code has been consumed.
func (c *RecoveryCode) IsUsed() bool {
	return c.UsedAt != nil
}
