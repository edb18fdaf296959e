// Package ratelimit provides sliding-window request counting keyed by
// identifier and endpoint, with in-memory and Redis backends.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Rule configures one endpoint's budget.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// Well-known endpoint keys.
const (
	EndpointSignIn    = "signin"
	EndpointAPI       = "api"
	EndpointMFAVerify = "mfa_verify"
	EndpointMFAEnroll = "mfa_enroll"
)

// DefaultRules returns the per-endpoint budgets used when config supplies none.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		EndpointSignIn:    {MaxRequests: 5, Window: 15 * time.Minute},
		EndpointAPI:       {MaxRequests: 100, Window: time.Minute},
		EndpointMFAVerify: {MaxRequests: 5, Window: 15 * time.Minute},
		EndpointMFAEnroll: {MaxRequests: 10, Window: 15 * time.Minute},
	}
}

// Limiter counts requests per (identifier, endpoint) window.
//
// Implementations tolerate a bounded race under concurrent double-submission:
// they may under-count by at most one request but never over-permit by more
// than one. Backends return an error only for storage failures; the caller
// decides whether to fail open or closed.
type Limiter interface {
	// Check records one request and reports whether it is allowed.
	Check(ctx context.Context, identifier, endpoint string) (Result, error)
	// Reset clears the active window for the key, e.g. after a successful
	// verification.
	Reset(ctx context.Context, identifier, endpoint string) error
}
