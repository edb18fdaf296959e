package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// PolicyResolver decides, per tenant, role and action, whether step-up
// verification is required and how long a prior success stays fresh.
//
// Precedence: platform force flags are absolute overrides; otherwise the
// tenant policy is authoritative for roles it configures, falling back to
// platform per-role defaults. Missing tenant or role context fails closed.
type PolicyResolver struct {
	logger *slog.Logger
	store  PolicyStore
}

// NewPolicyResolver creates a policy resolver.
func NewPolicyResolver(logger *slog.Logger, store PolicyStore) *PolicyResolver {
	return &PolicyResolver{logger: logger, store: store}
}

// RequiresStepUp reports whether the action needs a fresh step-up
// verification for the given tenant and role. When the answer cannot be
// resolved it returns true together with domain.ErrPolicyDenied.
func (r *PolicyResolver) RequiresStepUp(ctx context.Context, tenantID *uuid.UUID, role domain.Role, action domain.Action) (bool, error) {
	if tenantID == nil || role == "" {
		return true, domain.ErrPolicyDenied
	}

	platform, tenant, err := r.load(ctx, *tenantID)
	if err != nil {
		// Unreadable policy denies rather than waving the action through.
		return true, err
	}

	// Factor management gating is an explicit flag, tenant first.
	if action == domain.ActionFactorManagement {
		if tenant != nil {
			return tenant.GateFactorManagement, nil
		}
		if platform != nil {
			return platform.GateFactorManagement, nil
		}
		return true, nil
	}

	if platform != nil {
		if platform.ForceForAllRoles {
			return true, nil
		}
		if platform.ForceForSuperAdmin && role == domain.RoleSuperAdmin {
			return true, nil
		}
	}

	if required, ok := tenant.RoleSetting(role); ok {
		return required, nil
	}
	if required, ok := platform.RoleSetting(role); ok {
		return required, nil
	}

	// Nobody configured the role: sensitive actions stay gated.
	return true, nil
}

// StepUpWindow returns how long a prior successful verification keeps the
// caller fresh: tenant setting first, then platform, then the default.
func (r *PolicyResolver) StepUpWindow(ctx context.Context, tenantID *uuid.UUID) time.Duration {
	var tenant *domain.SecurityPolicy
	platform, err := r.store.GetPlatform(ctx)
	if err != nil && !errors.Is(err, domain.ErrPolicyNotFound) {
		r.logger.Warn("failed to load platform policy", "error", err)
	}
	if tenantID != nil {
		tenant, err = r.store.GetTenant(ctx, *tenantID)
		if err != nil && !errors.Is(err, domain.ErrPolicyNotFound) {
			r.logger.Warn("failed to load tenant policy", "tenant_id", *tenantID, "error", err)
		}
	}

	if tenant != nil && tenant.StepUpWindow > 0 {
		return tenant.StepUpWindow
	}
	if platform != nil && platform.StepUpWindow > 0 {
		return platform.StepUpWindow
	}
	return domain.DefaultStepUpWindow
}

// IsFresh reports whether a prior verification at lastVerifiedAt is still
// within the window at the given instant.
func IsFresh(lastVerifiedAt *time.Time, window time.Duration, now time.Time) bool {
	if lastVerifiedAt == nil {
		return false
	}
	return now.Sub(*lastVerifiedAt) <= window
}

func (r *PolicyResolver) load(ctx context.Context, tenantID uuid.UUID) (platform, tenant *domain.SecurityPolicy, err error) {
	platform, err = r.store.GetPlatform(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			return nil, nil, err
		}
		platform = nil
	}

	tenant, err = r.store.GetTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			return nil, nil, err
		}
		tenant = nil
	}
	return platform, tenant, nil
}
