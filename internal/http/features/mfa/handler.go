package mfa

import (
	"encoding/json"
	"errors"
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

// Handler handles factor enrollment, verification and recovery operations.
type Handler struct {
	logger     *slog.Logger
	enrollment *auth.EnrollmentService
	verifier   *auth.Verifier
	policy     *auth.PolicyResolver
	factors    auth.FactorStore
}

// NewHandler creates a new MFA handler.
func NewHandler(
	logger *slog.Logger,
	enrollment *auth.EnrollmentService,
	verifier *auth.Verifier,
	policy *auth.PolicyResolver,
	factors auth.FactorStore,
) *Handler {
	return &Handler{
		logger:     logger,
		enrollment: enrollment,
		verifier:   verifier,
		policy:     policy,
		factors:    factors,
	}
}

// StatusResponse represents the response body for factor status.
type StatusResponse struct {
	Enabled                bool `json:"enabled"`
	RecoveryCodesRemaining int  `json:"recovery_codes_remaining"`
	CodeSecondsRemaining   int  `json:"code_seconds_remaining"`
}

// Status handles GET /v1/me/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	enabled, remaining, err := h.enrollment.Status(ctx, userID)
	if err != nil {
		h.logger.Error("failed to get factor status", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to get MFA status")
		return
	}

	httputil.JSON(w, http.StatusOK, StatusResponse{
		Enabled:                enabled,
		RecoveryCodesRemaining: remaining,
		CodeSecondsRemaining:   auth.CountdownSeconds(time.Now()),
	})
}

// EnrollResponse represents the response body for beginning enrollment.
type EnrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// Enroll handles POST /v1/me/mfa/enroll
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	accountName := userID.String()
	if claims, ok := middleware.GetClaims(ctx); ok && claims.Email != "" {
		accountName = claims.Email
	}

	start, err := h.enrollment.BeginEnrollment(ctx, userID, accountName)
	if err != nil {
		if errors.Is(err, domain.ErrFactorAlreadyEnabled) {
			metrics.EnrollmentsTotal.WithLabelValues("begin", "conflict").Inc()
			httputil.Error(w, http.StatusConflict, "MFA is already enabled")
			return
		}
		h.logger.Error("failed to begin enrollment", "error", err)
		metrics.EnrollmentsTotal.WithLabelValues("begin", "error").Inc()
		httputil.Error(w, http.StatusInternalServerError, "failed to begin enrollment")
		return
	}

	metrics.EnrollmentsTotal.WithLabelValues("begin", "ok").Inc()
	httputil.JSON(w, http.StatusOK, EnrollResponse{
		Secret:          start.Secret,
		ProvisioningURI: start.ProvisioningURI,
		QRCode:          start.QRCodeDataURI,
	})
}

// ConfirmRequest represents the request body for confirming enrollment.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmResponse returns the recovery codes, displayed exactly once.
type ConfirmResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Confirm handles POST /v1/me/mfa/enroll/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := domain.ParseCode(domain.CodeKindTOTP, req.Code)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "a 6-digit code is required")
		return
	}

	recoveryCodes, err := h.enrollment.ConfirmEnrollment(ctx, userID, code)
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues("confirm", "error").Inc()
		switch {
		case errors.Is(err, domain.ErrInvalidCode):
			httputil.Error(w, http.StatusBadRequest, "invalid MFA code")
		case errors.Is(err, domain.ErrNoPendingEnrollment):
			httputil.Error(w, http.StatusBadRequest, "no enrollment pending. call /enroll first")
		case errors.Is(err, domain.ErrFactorAlreadyEnabled):
			httputil.Error(w, http.StatusConflict, "MFA is already enabled")
		default:
			h.logger.Error("failed to confirm enrollment", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to confirm enrollment")
		}
		return
	}

	metrics.EnrollmentsTotal.WithLabelValues("confirm", "ok").Inc()
	httputil.JSON(w, http.StatusOK, ConfirmResponse{RecoveryCodes: recoveryCodes})
}

// VerifyRequest represents the request body for verification.
type VerifyRequest struct {
	Code string `json:"code"`
	Type string `json:"type"` // totp | recovery
}

// VerifyResponse represents the response body for verification.
type VerifyResponse struct {
	OK                bool `json:"ok"`
	RemainingAttempts int  `json:"remaining_attempts"`
}

// Verify handles POST /v1/me/mfa/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	code, ok := h.parseCode(w, r)
	if !ok {
		return
	}

	res, err := h.verifier.Verify(ctx, userID, code)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues(string(code.Kind()), "failure").Inc()
		h.writeVerifyError(w, err, res)
		return
	}

	metrics.VerificationsTotal.WithLabelValues(string(code.Kind()), "success").Inc()
	httputil.JSON(w, http.StatusOK, VerifyResponse{OK: true, RemainingAttempts: res.RemainingAttempts})
}

// DisableRequest represents the request body for disabling the factor.
type DisableRequest struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

// Disable handles POST /v1/me/mfa/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	code, ok := h.parseCode(w, r)
	if !ok {
		return
	}

	// The code submitted here passes through the full verifier, so disable
	// satisfies the factor-management gate on its own.
	if err := h.enrollment.Disable(ctx, userID, code); err != nil {
		metrics.EnrollmentsTotal.WithLabelValues("disable", "error").Inc()
		h.writeVerifyError(w, err, auth.VerifyResult{})
		return
	}

	metrics.EnrollmentsTotal.WithLabelValues("disable", "ok").Inc()
	httputil.JSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

// RegenerateResponse returns the replacement recovery codes, displayed once.
type RegenerateResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Regenerate handles POST /v1/me/mfa/recovery-codes/regenerate
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.factorManagementFresh(r) {
		httputil.Error(w, http.StatusForbidden, "step-up verification required")
		return
	}

	codes, err := h.enrollment.RegenerateRecoveryCodes(ctx, userID)
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues("regenerate", "error").Inc()
		if errors.Is(err, domain.ErrEnrollmentRequired) {
			httputil.Error(w, http.StatusPreconditionFailed, "MFA is not enabled")
			return
		}
		h.logger.Error("failed to regenerate recovery codes", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to regenerate recovery codes")
		return
	}

	metrics.EnrollmentsTotal.WithLabelValues("regenerate", "ok").Inc()
	httputil.JSON(w, http.StatusOK, RegenerateResponse{RecoveryCodes: codes})
}

// factorManagementFresh enforces the gate-factor-management policy flag:
// when set, regeneration needs a step-up verification still inside the
// freshness window.
func (h *Handler) factorManagementFresh(r *http.Request) bool {
	ctx := r.Context()
	userID, _ := middleware.GetUserID(ctx)

	var tenantID *uuid.UUID
	if tid, ok := middleware.GetTenantID(ctx); ok {
		tenantID = &tid
	}
	role, _ := middleware.GetRole(ctx)

	required, err := h.policy.RequiresStepUp(ctx, tenantID, role, domain.ActionFactorManagement)
	if err != nil || !required {
		// Policy resolution failure falls through to required; an explicit
		// opt-out skips the freshness check.
		return err == nil && !required
	}

	factor, err := h.factors.Get(ctx, userID)
	if err != nil {
		return false
	}
	window := h.policy.StepUpWindow(ctx, tenantID)
	return auth.IsFresh(factor.LastVerifiedAt, window, time.Now())
}

func (h *Handler) parseCode(w http.ResponseWriter, r *http.Request) (domain.Code, bool) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return domain.Code{}, false
	}

	kind := domain.CodeKind(req.Type)
	if kind != domain.CodeKindTOTP && kind != domain.CodeKindRecovery {
		httputil.Error(w, http.StatusBadRequest, "type must be totp or recovery")
		return domain.Code{}, false
	}

	code, err := domain.ParseCode(kind, req.Code)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid code format")
		return domain.Code{}, false
	}
	return code, true
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, err error, res auth.VerifyResult) {
	var rateErr *domain.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", rateErr.ResetAt.UTC().Format(http.TimeFormat))
		httputil.JSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":              "too many attempts",
			"remaining_attempts": 0,
			"reset_at":           rateErr.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, domain.ErrExpiredOrReplayedCode):
		httputil.JSON(w, http.StatusConflict, map[string]interface{}{
			"error":              "code expired or already used",
			"remaining_attempts": res.RemainingAttempts,
		})
	case errors.Is(err, domain.ErrInvalidCode):
		httputil.JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":              "invalid MFA code",
			"remaining_attempts": res.RemainingAttempts,
		})
	case errors.Is(err, domain.ErrEnrollmentRequired):
		httputil.Error(w, http.StatusPreconditionFailed, "MFA enrollment required")
	case errors.Is(err, domain.ErrPolicyDenied):
		httputil.Error(w, http.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrTransientStore):
		httputil.Error(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	default:
		h.logger.Error("verification failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "verification failed")
	}
}
