package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/audit"
	"github.com/corepay/stepup/pkg/domain"
	"github.com/corepay/stepup/pkg/ratelimit"
	"github.com/corepay/stepup/pkg/replay"
)

// VerifyResult reports a verification outcome together with how many
// attempts remain in the current rate-limit window.
type VerifyResult struct {
	OK                bool
	RemainingAttempts int
}

// Verifier validates submitted TOTP and recovery codes. Every call, success
// or failure, first consumes one attempt from the rate limiter; accepted
// TOTP steps are recorded in the replay guard so a code can never be
// accepted twice within its own validity window.
type Verifier struct {
	logger   *slog.Logger
	factors  FactorStore
	codes    RecoveryCodeStore
	limiter  ratelimit.Limiter
	guard    replay.Guard
	sealer   *SecretSealer
	recorder *audit.Recorder
	now      func() time.Time
}

// NewVerifier creates a verifier.
func NewVerifier(
	logger *slog.Logger,
	factors FactorStore,
	codes RecoveryCodeStore,
	limiter ratelimit.Limiter,
	guard replay.Guard,
	sealer *SecretSealer,
	recorder *audit.Recorder,
) *Verifier {
	return &Verifier{
		logger:   logger,
		factors:  factors,
		codes:    codes,
		limiter:  limiter,
		guard:    guard,
		sealer:   sealer,
		recorder: recorder,
		now:      time.Now,
	}
}

// Verify validates one submitted code for the user.
//
// The rate limiter is consulted before the code is inspected; once the
// budget is exhausted the call fails fast with a *domain.RateLimitError.
// A limiter storage failure is tolerated (fail open) while a storage
// failure during verification itself denies (fail closed): a false accept
// is strictly worse than a false deny.
func (v *Verifier) Verify(ctx context.Context, userID uuid.UUID, code domain.Code) (VerifyResult, error) {
	remaining := 0

	res, err := v.limiter.Check(ctx, userID.String(), ratelimit.EndpointMFAVerify)
	switch {
	case err != nil:
		v.logger.Warn("rate limiter unavailable, allowing request", "user_id", userID, "error", err)
	case !res.Allowed:
		v.record(ctx, userID, domain.AuditVerifyRateLimited, code.Kind())
		return VerifyResult{OK: false, RemainingAttempts: 0}, &domain.RateLimitError{ResetAt: res.ResetAt}
	default:
		remaining = res.Remaining
	}

	factor, err := v.factors.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrFactorNotFound) {
			return VerifyResult{RemainingAttempts: remaining}, domain.ErrEnrollmentRequired
		}
		return VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if !factor.Enabled() {
		return VerifyResult{RemainingAttempts: remaining}, domain.ErrEnrollmentRequired
	}

	var verifyErr error
	switch code.Kind() {
	case domain.CodeKindTOTP:
		verifyErr = v.verifyTOTP(ctx, userID, factor, code.Value())
	case domain.CodeKindRecovery:
		verifyErr = v.verifyRecovery(ctx, userID, code.Value())
	default:
		verifyErr = domain.ErrInvalidCode
	}

	if verifyErr != nil {
		if errors.Is(verifyErr, domain.ErrInvalidCode) || errors.Is(verifyErr, domain.ErrExpiredOrReplayedCode) {
			v.record(ctx, userID, domain.AuditVerifyFailed, code.Kind())
			return VerifyResult{OK: false, RemainingAttempts: remaining}, verifyErr
		}
		// Storage trouble mid-verification: deny.
		return VerifyResult{}, verifyErr
	}

	now := v.now()
	if err := v.factors.TouchVerified(ctx, userID, now); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if err := v.limiter.Reset(ctx, userID.String(), ratelimit.EndpointMFAVerify); err != nil {
		v.logger.Warn("failed to reset rate limit window", "user_id", userID, "error", err)
	}

	v.record(ctx, userID, domain.AuditVerifySucceeded, code.Kind())
	return VerifyResult{OK: true, RemainingAttempts: remaining}, nil
}

func (v *Verifier) verifyTOTP(ctx context.Context, userID uuid.UUID, factor *domain.AuthFactor, code string) error {
	secret, err := v.sealer.Open(factor.SecretSealed)
	if err != nil {
		return fmt.Errorf("failed to open sealed secret: %w", err)
	}

	now := v.now()
	matchedStep, ok := matchTOTP(secret, code, now)
	if !ok {
		return domain.ErrInvalidCode
	}

	scope := userID.String()
	codeHash := replay.HashCode(code)

	accepted, err := v.guard.WasAccepted(ctx, scope, codeHash, matchedStep)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if accepted {
		return domain.ErrExpiredOrReplayedCode
	}

	if err := v.guard.RecordAccepted(ctx, scope, codeHash, matchedStep, stepWindowTTL(matchedStep, now)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return nil
}

func (v *Verifier) verifyRecovery(ctx context.Context, userID uuid.UUID, code string) error {
	unused, err := v.codes.ListUnused(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	for _, rc := range unused {
		if VerifyRecoveryCodeHash(code, rc.CodeHash) {
			if err := v.codes.MarkUsed(ctx, rc.ID); err != nil {
				if errors.Is(err, domain.ErrInvalidCode) {
					// Lost a consume race: the code is spent.
					return domain.ErrInvalidCode
				}
				return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
			}
			return nil
		}
	}
	return domain.ErrInvalidCode
}

func (v *Verifier) record(ctx context.Context, userID uuid.UUID, action domain.AuditAction, kind domain.CodeKind) {
	v.recorder.Record(ctx, domain.AuditEvent{
		Action:   action,
		ActorID:  userID,
		TargetID: userID,
		After:    []byte(fmt.Sprintf(`{"code_type":%q}`, kind)),
	})
}
