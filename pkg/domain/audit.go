package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction names an auditable event.
type AuditAction string

const (
	AuditEnrollmentBegan      AuditAction = "mfa.enrollment_began"
	AuditEnrollmentConfirmed  AuditAction = "mfa.enrollment_confirmed"
	AuditFactorDisabled       AuditAction = "mfa.factor_disabled"
	AuditRecoveryRegenerated  AuditAction = "mfa.recovery_codes_regenerated"
	AuditVerifySucceeded      AuditAction = "mfa.verify_succeeded"
	AuditVerifyFailed         AuditAction = "mfa.verify_failed"
	AuditVerifyRateLimited    AuditAction = "mfa.verify_rate_limited"
	AuditGatedActionExecuted  AuditAction = "gate.action_executed"
	AuditGatedActionCancelled AuditAction = "gate.action_cancelled"
	AuditGatedActionDenied    AuditAction = "gate.action_denied"
)

// AuditEvent is an append-only record of an MFA or gate outcome.
type AuditEvent struct {
	ID        uuid.UUID
	Action    AuditAction
	ActorID   uuid.UUID
	TargetID  uuid.UUID
	TenantID  *uuid.UUID
	Before    json.RawMessage
	After     json.RawMessage
	IP        string
	UserAgent string
	CreatedAt time.Time
}
