package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/corepay/stepup/internal/config"
	httpserver "github.com/corepay/stepup/internal/http"
	"github.com/corepay/stepup/internal/observability/metrics"
	"github.com/corepay/stepup/pkg/audit"
	"github.com/corepay/stepup/pkg/auth"
	"github.com/corepay/stepup/pkg/domain"
	"github.com/corepay/stepup/pkg/ratelimit"
	"github.com/corepay/stepup/pkg/replay"
	"github.com/corepay/stepup/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	metrics.MustRegister()

	// Wire stores: Postgres when configured, in-memory otherwise.
	var (
		factors     auth.FactorStore
		codes       auth.RecoveryCodeStore
		policies    auth.PolicyStore
		guard       replay.Guard
		auditStore  audit.Store
		memoryStore *repository.MemoryStore
	)
	if cfg.HasDB() {
		db, err := repository.NewDB(repository.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("connected to database")

		factors = repository.NewFactorsRepository(db)
		codes = repository.NewRecoveryCodesRepository(db)
		policies = repository.NewPoliciesRepository(db)
		guard = repository.NewReplayRepository(db)
		auditStore = repository.NewAuditRepository(db)
	} else {
		logger.Warn("no database configured, using in-memory stores (single replica only)")
		memoryStore = repository.NewMemoryStore()
		factors = memoryStore
		codes = memoryStore
		policies = memoryStore
		guard = replay.NewMemoryGuard()
		auditStore = memoryStore

		memoryStore.SetPolicy(platformPolicy(cfg.Policy))
	}

	// Rate limiter: Redis when configured so replicas share one budget.
	rules := map[string]ratelimit.Rule{
		ratelimit.EndpointSignIn:    {MaxRequests: cfg.RateLimit.SignInMax, Window: cfg.RateLimit.SignInWindow},
		ratelimit.EndpointAPI:       {MaxRequests: cfg.RateLimit.APIMax, Window: cfg.RateLimit.APIWindow},
		ratelimit.EndpointMFAVerify: {MaxRequests: cfg.RateLimit.MFAVerifyMax, Window: cfg.RateLimit.MFAVerifyWindow},
		ratelimit.EndpointMFAEnroll: {MaxRequests: cfg.RateLimit.MFAEnrollMax, Window: cfg.RateLimit.MFAEnrollWindow},
	}
	var limiter ratelimit.Limiter
	if cfg.HasRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, "stepup:rl", rules)
		logger.Info("using Redis rate limiter", "addr", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemoryLimiter(rules)
	}

	encryptionKey, err := cfg.EncryptionKey()
	if err != nil {
		logger.Error("invalid MFA encryption key", "error", err)
		os.Exit(1)
	}
	sealer, err := auth.NewSecretSealer(encryptionKey)
	if err != nil {
		logger.Error("failed to create secret sealer", "error", err)
		os.Exit(1)
	}

	recorder := audit.NewRecorder(logger, auditStore)
	verifier := auth.NewVerifier(logger, factors, codes, limiter, guard, sealer, recorder)
	enrollment := auth.NewEnrollmentService(
		logger,
		auth.EnrollmentConfig{Issuer: cfg.MFAIssuer},
		factors,
		codes,
		sealer,
		verifier,
		recorder,
	)
	policyResolver := auth.NewPolicyResolver(logger, policies)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:     logger,
		Enrollment: enrollment,
		Verifier:   verifier,
		Policy:     policyResolver,
		Factors:    factors,
		JWTSecret:  []byte(cfg.JWTSecret),
		JWTIssuer:  cfg.JWTIssuer,
		RateLimit:  cfg.RateLimit,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// platformPolicy builds the platform-wide policy singleton from env config.
// Only used by the in-memory store; with Postgres the policy lives in the
// security_policies table.
func platformPolicy(cfg config.PolicyConfig) *domain.SecurityPolicy {
	return &domain.SecurityPolicy{
		RequireForRole: map[domain.Role]bool{
			domain.RoleSuperAdmin: true,
			domain.RoleAdmin:      true,
			domain.RoleOperator:   true,
			domain.RoleViewer:     true,
		},
		StepUpWindow:          cfg.StepUpWindow,
		ForceForAllRoles:      cfg.ForceForAllRoles,
		ForceForSuperAdmin:    cfg.ForceForSuperAdmin,
		FirstLoginRequiresMFA: cfg.FirstLoginRequiresMFA,
		GateFactorManagement:  cfg.GateFactorManagement,
		UpdatedAt:             time.Now(),
	}
}
