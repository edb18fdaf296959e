package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// PoliciesRepository handles database operations for security policies.
// The platform singleton is the row with a NULL tenant_id.
type PoliciesRepository struct {
	db *sql.DB
}

// NewPoliciesRepository creates a new policies repository.
func NewPoliciesRepository(db *sql.DB) *PoliciesRepository {
	return &PoliciesRepository{db: db}
}

// GetPlatform retrieves the platform-wide policy singleton.
func (r *PoliciesRepository) GetPlatform(ctx context.Context) (*domain.SecurityPolicy, error) {
	query := `
		SELECT tenant_id, require_for_role, step_up_window_seconds, force_for_all_roles,
		       force_for_super_admin, first_login_requires_mfa, gate_factor_management, updated_at
		FROM security_policies
		WHERE tenant_id IS NULL
	`
	return r.scanPolicy(r.db.QueryRowContext(ctx, query))
}

// GetTenant retrieves the policy for a tenant.
func (r *PoliciesRepository) GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.SecurityPolicy, error) {
	query := `
		SELECT tenant_id, require_for_role, step_up_window_seconds, force_for_all_roles,
		       force_for_super_admin, first_login_requires_mfa, gate_factor_management, updated_at
		FROM security_policies
		WHERE tenant_id = $1
	`
	return r.scanPolicy(r.db.QueryRowContext(ctx, query, tenantID))
}

// Upsert creates or replaces a policy record.
func (r *PoliciesRepository) Upsert(ctx context.Context, policy *domain.SecurityPolicy) error {
	roleJSON, err := json.Marshal(policy.RequireForRole)
	if err != nil {
		return fmt.Errorf("failed to marshal role settings: %w", err)
	}

	query := `
		INSERT INTO security_policies
			(tenant_id, require_for_role, step_up_window_seconds, force_for_all_roles,
			 force_for_super_admin, first_login_requires_mfa, gate_factor_management, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET require_for_role = EXCLUDED.require_for_role,
		    step_up_window_seconds = EXCLUDED.step_up_window_seconds,
		    force_for_all_roles = EXCLUDED.force_for_all_roles,
		    force_for_super_admin = EXCLUDED.force_for_super_admin,
		    first_login_requires_mfa = EXCLUDED.first_login_requires_mfa,
		    gate_factor_management = EXCLUDED.gate_factor_management,
		    updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		policy.TenantID,
		roleJSON,
		int(policy.StepUpWindow.Seconds()),
		policy.ForceForAllRoles,
		policy.ForceForSuperAdmin,
		policy.FirstLoginRequiresMFA,
		policy.GateFactorManagement,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security policy: %w", err)
	}
	return nil
}

func (r *PoliciesRepository) scanPolicy(row *sql.Row) (*domain.SecurityPolicy, error) {
	policy := &domain.SecurityPolicy{}
	var roleJSON []byte
	var windowSeconds int

	err := row.Scan(
		&policy.TenantID,
		&roleJSON,
		&windowSeconds,
		&policy.ForceForAllRoles,
		&policy.ForceForSuperAdmin,
		&policy.FirstLoginRequiresMFA,
		&policy.GateFactorManagement,
		&policy.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security policy: %w", err)
	}

	if len(roleJSON) > 0 {
		if err := json.Unmarshal(roleJSON, &policy.RequireForRole); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role settings: %w", err)
		}
	}
	policy.StepUpWindow = time.Duration(windowSeconds) * time.Second
	return policy, nil
}
