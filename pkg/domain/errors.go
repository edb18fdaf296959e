package domain

import (
	"errors"
	"fmt"
	"time"
)

// Verification errors
var (
	ErrInvalidCode           = errors.New("invalid verification code")
	ErrExpiredOrReplayedCode = errors.New("verification code expired or already used")
	ErrEnrollmentRequired    = errors.New("an enabled authentication factor is required")
	ErrFactorNotFound        = errors.New("authentication factor not found")
	ErrFactorAlreadyEnabled  = errors.New("authentication factor is already enabled")
	ErrNoPendingEnrollment   = errors.New("no enrollment is pending for this user")
)

// Policy errors
var (
	ErrPolicyDenied   = errors.New("tenant or role context could not be resolved")
	ErrPolicyNotFound = errors.New("security policy not found")
)

// Challenge errors
var (
	ErrChallengePending = errors.New("a challenge is already pending for this session")
	ErrNoChallengeOpen  = errors.New("no challenge is open")
	ErrSubmitInFlight   = errors.New("a verification is already in flight")
)

// ErrTransientStore indicates a temporary storage failure. The rate limiter
// fails open on it; the verifier fails closed.
var ErrTransientStore = errors.New("transient store error")

// ErrRateLimited is the sentinel matched by errors.Is for RateLimitError values.
var ErrRateLimited = errors.New("too many attempts")

// RateLimitError is returned when an identifier has exhausted its attempt
// budget for an endpoint. It carries the moment the window resets.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrRateLimited) match a *RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
