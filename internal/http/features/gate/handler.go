package gate

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/internal/http/middleware"
	"github.com/corepay/stepup/internal/httputil"
	"github.com/corepay/stepup/internal/observability/metrics"
	"github.com/corepay/stepup/pkg/auth"
	"github.com/corepay/stepup/pkg/domain"
)

// Handler answers step-up requirement questions for UI hinting. The actual
// gating of in-process actions happens through auth.Orchestrator at the
// call sites; this surface only tells a client whether invoking a sensitive
// operation would open a challenge.
type Handler struct {
	logger  *slog.Logger
	policy  *auth.PolicyResolver
	factors auth.FactorStore
}

// NewHandler creates a new gate handler.
func NewHandler(logger *slog.Logger, policy *auth.PolicyResolver, factors auth.FactorStore) *Handler {
	return &Handler{logger: logger, policy: policy, factors: factors}
}

// RequirementsResponse describes what a sensitive action would need right now.
type RequirementsResponse struct {
	Action             string `json:"action"`
	StepUpRequired     bool   `json:"step_up_required"`
	EnrollmentRequired bool   `json:"enrollment_required"`
	Fresh              bool   `json:"fresh"`
	WindowSeconds      int    `json:"window_seconds"`
}

// Requirements handles GET /v1/gate/requirements?action=X
func (h *Handler) Requirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	action := domain.Action(r.URL.Query().Get("action"))
	if action == "" {
		httputil.Error(w, http.StatusBadRequest, "action is required")
		return
	}

	var tenantID *uuid.UUID
	if tid, ok := middleware.GetTenantID(ctx); ok {
		tenantID = &tid
	}
	role, _ := middleware.GetRole(ctx)

	required, err := h.policy.RequiresStepUp(ctx, tenantID, role, action)
	if err != nil && err != domain.ErrPolicyDenied {
		h.logger.Error("failed to resolve policy", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
		return
	}

	window := h.policy.StepUpWindow(ctx, tenantID)
	resp := RequirementsResponse{
		Action:         string(action),
		StepUpRequired: required,
		WindowSeconds:  int(window.Seconds()),
	}

	if required {
		factor, err := h.factors.Get(ctx, userID)
		switch {
		case err != nil:
			resp.EnrollmentRequired = true
		case !factor.Enabled():
			resp.EnrollmentRequired = true
		default:
			resp.Fresh = auth.IsFresh(factor.LastVerifiedAt, window, time.Now())
		}
	}

	metrics.GatedActionsTotal.WithLabelValues(string(action), gateOutcome(resp)).Inc()
	httputil.JSON(w, http.StatusOK, resp)
}

func gateOutcome(resp RequirementsResponse) string {
	switch {
	case !resp.StepUpRequired:
		return "not_required"
	case resp.EnrollmentRequired:
		return "enrollment_required"
	case resp.Fresh:
		return "fresh"
	default:
		return "challenge_needed"
	}
}
