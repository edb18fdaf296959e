package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateLimitConfig holds attempt-budget configuration for the domain limiter
// and the per-IP HTTP limiter.
type RateLimitConfig struct {
	Enabled bool

	// Identity-keyed budgets
	MFAVerifyMax     int
	MFAVerifyWindow  time.Duration
	MFAEnrollMax     int
	MFAEnrollWindow  time.Duration
	SignInMax        int
	SignInWindow     time.Duration
	APIMax           int
	APIWindow        time.Duration

	// Per-IP HTTP budgets
	IPRequestsPerMinute int
}

// PolicyConfig seeds the platform policy when the store has none.
type PolicyConfig struct {
	StepUpWindow         time.Duration
	ForceForAllRoles     bool
	ForceForSuperAdmin   bool
	FirstLoginRequiresMFA bool
	GateFactorManagement bool
}

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database (optional; absent host selects the in-memory store)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; selects the shared rate limiter backend)
	RedisAddr     string
	RedisPassword string

	// JWT
	JWTSecret string
	JWTIssuer string

	// MFA
	MFAIssuer        string
	MFAEncryptionKey string // 64-char hex, 32 bytes

	RateLimit RateLimitConfig
	Policy    PolicyConfig
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "stepup"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "stepup"),

		// MFA
		MFAIssuer:        getEnv("MFA_ISSUER", "CorePay"),
		MFAEncryptionKey: getEnv("MFA_ENCRYPTION_KEY", ""),

		RateLimit: RateLimitConfig{
			Enabled:             getEnvBool("RATE_LIMIT_ENABLED", true),
			MFAVerifyMax:        getEnvInt("RATE_LIMIT_MFA_VERIFY_MAX", 5),
			MFAVerifyWindow:     getEnvDuration("RATE_LIMIT_MFA_VERIFY_WINDOW", 15*time.Minute),
			MFAEnrollMax:        getEnvInt("RATE_LIMIT_MFA_ENROLL_MAX", 10),
			MFAEnrollWindow:     getEnvDuration("RATE_LIMIT_MFA_ENROLL_WINDOW", 15*time.Minute),
			SignInMax:           getEnvInt("RATE_LIMIT_SIGNIN_MAX", 5),
			SignInWindow:        getEnvDuration("RATE_LIMIT_SIGNIN_WINDOW", 15*time.Minute),
			APIMax:              getEnvInt("RATE_LIMIT_API_MAX", 100),
			APIWindow:           getEnvDuration("RATE_LIMIT_API_WINDOW", time.Minute),
			IPRequestsPerMinute: getEnvInt("RATE_LIMIT_IP_PER_MINUTE", 60),
		},
		Policy: PolicyConfig{
			StepUpWindow:          getEnvDuration("POLICY_STEP_UP_WINDOW", 15*time.Minute),
			ForceForAllRoles:      getEnvBool("POLICY_FORCE_FOR_ALL_ROLES", false),
			ForceForSuperAdmin:    getEnvBool("POLICY_FORCE_FOR_SUPER_ADMIN", true),
			FirstLoginRequiresMFA: getEnvBool("POLICY_FIRST_LOGIN_REQUIRES_MFA", false),
			GateFactorManagement:  getEnvBool("POLICY_GATE_FACTOR_MANAGEMENT", true),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MFAEncryptionKey == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	if _, err := cfg.EncryptionKey(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasDB returns true when a database host is configured.
func (c *Config) HasDB() bool {
	return c.DBHost != ""
}

// HasRedis returns true when a Redis address is configured.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// EncryptionKey decodes the configured hex key into 32 raw bytes.
func (c *Config) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.MFAEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64-char hex (32 bytes)")
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
