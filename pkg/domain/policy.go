package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the caller's role within a tenant, carried in the access token.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

// Action identifies a sensitive operation gated behind step-up verification.
type Action string

const (
	ActionRefund             Action = "refund"
	ActionPayout             Action = "payout"
	ActionCredentialIssuance Action = "credential_issuance"
	ActionWebhookConfig      Action = "webhook_config"
	ActionUserProvisioning   Action = "user_provisioning"
	ActionFactorManagement   Action = "factor_management"
)

// DefaultStepUpWindow applies when neither tenant nor platform sets one.
const DefaultStepUpWindow = 15 * time.Minute

// SecurityPolicy decides when step-up verification is required. One record
// exists per tenant plus a platform-wide singleton (TenantID == nil).
// Platform force flags are absolute overrides; otherwise the tenant record
// is authoritative, falling back to platform per-role defaults when the
// tenant has no entry for the role.
type SecurityPolicy struct {
	TenantID             *uuid.UUID
	RequireForRole       map[Role]bool
	StepUpWindow         time.Duration
	ForceForAllRoles     bool
	ForceForSuperAdmin   bool
	FirstLoginRequiresMFA bool
	// GateFactorManagement puts disable and recovery-code regeneration behind
	// the step-up gate as well.
	GateFactorManagement bool
	UpdatedAt            time.Time
}

// IsPlatform reports whether this is the platform-wide singleton.
func (p *SecurityPolicy) IsPlatform() bool {
	return p != nil && p.TenantID == nil
}

// RoleSetting returns the per-role requirement and whether the policy has
// an explicit entry for the role.
func (p *SecurityPolicy) RoleSetting(role Role) (required, ok bool) {
	if p == nil || p.RequireForRole == nil {
		return false, false
	}
	required, ok = p.RequireForRole[role]
	return required, ok
}
