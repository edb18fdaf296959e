package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corepay/stepup/internal/config"
	"github.com/corepay/stepup/internal/http/features/gate"
	"github.com/corepay/stepup/internal/http/features/mfa"
	"github.com/corepay/stepup/internal/http/middleware"
	"github.com/corepay/stepup/internal/httputil"
	"github.com/corepay/stepup/pkg/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger     *slog.Logger
	Enrollment *auth.EnrollmentService
	Verifier   *auth.Verifier
	Policy     *auth.PolicyResolver
	Factors    auth.FactorStore
	JWTSecret  []byte
	JWTIssuer  string
	RateLimit  config.RateLimitConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	ipLimit := middleware.NoRateLimit()
	enrollLimit := middleware.NoRateLimit()
	verifyLimit := middleware.NoRateLimit()
	if cfg.RateLimit.Enabled {
		ipLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.IPRequestsPerMinute,
			Window:   cfg.RateLimit.APIWindow,
			Endpoint: "api",
			Logger:   cfg.Logger,
		})
		enrollLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.MFAEnrollMax,
			Window:   cfg.RateLimit.MFAEnrollWindow,
			Endpoint: "mfa_enroll",
			Logger:   cfg.Logger,
		})
		verifyLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.MFAVerifyMax,
			Window:   cfg.RateLimit.MFAVerifyWindow,
			Endpoint: "mfa_verify",
			Logger:   cfg.Logger,
		})
	}

	authn := middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer)

	mfaHandler := mfa.NewHandler(cfg.Logger, cfg.Enrollment, cfg.Verifier, cfg.Policy, cfg.Factors)
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(ipLimit)
		r.Get("/v1/me/mfa/status", mfaHandler.Status)
	})
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(enrollLimit)
		r.Post("/v1/me/mfa/enroll", mfaHandler.Enroll)
		r.Post("/v1/me/mfa/enroll/confirm", mfaHandler.Confirm)
		r.Post("/v1/me/mfa/recovery-codes/regenerate", mfaHandler.Regenerate)
	})
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(verifyLimit)
		r.Post("/v1/me/mfa/verify", mfaHandler.Verify)
		r.Post("/v1/me/mfa/disable", mfaHandler.Disable)
	})

	gateHandler := gate.NewHandler(cfg.Logger, cfg.Policy, cfg.Factors)
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(ipLimit)
		r.Get("/v1/gate/requirements", gateHandler.Requirements)
	})

	return r
}
