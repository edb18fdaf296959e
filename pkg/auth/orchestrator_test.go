package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

type orchestratorFixture struct {
	*verifierFixture
	orch     *Orchestrator
	tenantID uuid.UUID
}

// newOrchestratorFixture wires a gate over an enabled factor with a platform
// policy that requires step-up for admins.
func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	f := newVerifierFixture(t, 5)
	f.enableFactor(t, "AAAABBBBCCCC")

	f.store.SetPolicy(&domain.SecurityPolicy{
		RequireForRole: map[domain.Role]bool{domain.RoleAdmin: true},
		StepUpWindow:   15 * time.Minute,
	})

	tenantID := uuid.New()
	policy := NewPolicyResolver(testLogger(), f.store)
	orch := NewOrchestrator(testLogger(), policy, f.verifier, f.store, f.recorder, Session{
		UserID:   f.userID,
		TenantID: &tenantID,
		Role:     domain.RoleAdmin,
		IP:       "203.0.113.7",
	})
	return &orchestratorFixture{verifierFixture: f, orch: orch, tenantID: tenantID}
}

func countingAction(ran *int) GatedAction {
	return func(context.Context) error {
		*ran++
		return nil
	}
}

func TestGateRunsImmediatelyWhenNotRequired(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	f.store.SetPolicy(&domain.SecurityPolicy{
		RequireForRole: map[domain.Role]bool{domain.RoleAdmin: false},
	})

	ran := 0
	challenge, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran))
	if err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}
	if challenge != nil {
		t.Fatal("no challenge must open when step-up is not required")
	}
	if ran != 1 {
		t.Errorf("action ran %d times, want 1", ran)
	}
}

func TestGateRunsImmediatelyWhenFresh(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	now := time.Now()
	if err := f.store.TouchVerified(ctx, f.userID, now); err != nil {
		t.Fatalf("TouchVerified: %v", err)
	}

	ran := 0
	challenge, err := f.orch.CheckAndChallenge(ctx, domain.ActionPayout, countingAction(&ran))
	if err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}
	if challenge != nil {
		t.Fatal("fresh verification must skip the challenge")
	}
	if ran != 1 {
		t.Errorf("action ran %d times, want 1", ran)
	}
}

func TestGateOpensChallengeWhenStale(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	ran := 0
	challenge, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran))
	if err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}
	if challenge == nil {
		t.Fatal("stale session must open a challenge")
	}
	if challenge.Action != domain.ActionRefund {
		t.Errorf("challenge action = %q, want refund", challenge.Action)
	}
	if challenge.RemainingAttempts != -1 {
		t.Errorf("RemainingAttempts = %d, want -1 before any submission", challenge.RemainingAttempts)
	}
	if ran != 0 {
		t.Fatalf("action ran %d times before verification, want 0", ran)
	}

	// Only one challenge surface exists per session.
	if _, err := f.orch.CheckAndChallenge(ctx, domain.ActionPayout, countingAction(&ran)); !errors.Is(err, domain.ErrChallengePending) {
		t.Fatalf("second gate call error = %v, want ErrChallengePending", err)
	}
}

func TestGateSubmitRunsActionExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	ran := 0
	if _, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran)); err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}

	ok, err := f.orch.Submit(ctx, f.totpCode(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ok {
		t.Fatal("valid code must close the challenge")
	}
	if ran != 1 {
		t.Fatalf("action ran %d times, want 1", ran)
	}
	if f.orch.Open() != nil {
		t.Error("challenge surface must close after success")
	}

	// The captured action is gone; nothing left to submit against.
	if _, err := f.orch.Submit(ctx, mustCode(t, domain.CodeKindRecovery, "AAAA-BBBB-CCCC")); !errors.Is(err, domain.ErrNoChallengeOpen) {
		t.Fatalf("Submit after close error = %v, want ErrNoChallengeOpen", err)
	}
	if ran != 1 {
		t.Errorf("action ran %d times, want exactly 1", ran)
	}
}

func TestGateSubmitFailureKeepsChallengeOpen(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	ran := 0
	if _, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran)); err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}

	ok, err := f.orch.Submit(ctx, mustCode(t, domain.CodeKindTOTP, "000000"))
	if !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("Submit error = %v, want ErrInvalidCode", err)
	}
	if ok || ran != 0 {
		t.Fatalf("failed submit must not run the action (ok=%v, ran=%d)", ok, ran)
	}

	open := f.orch.Open()
	if open == nil {
		t.Fatal("challenge must stay open after a failed submit")
	}
	// The verifier reported the count; the surface never computes it itself.
	if open.RemainingAttempts != 4 {
		t.Errorf("RemainingAttempts = %d, want 4", open.RemainingAttempts)
	}

	// A later valid submission still works.
	if ok, err := f.orch.Submit(ctx, f.totpCode(t)); err != nil || !ok {
		t.Fatalf("Submit = (%v, %v), want success", ok, err)
	}
	if ran != 1 {
		t.Errorf("action ran %d times, want 1", ran)
	}
}

func TestGateCancelDropsAction(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	ran := 0
	if _, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran)); err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}

	f.orch.Cancel(ctx)
	if f.orch.Open() != nil {
		t.Error("cancel must close the challenge surface")
	}

	// Even a valid code cannot resurrect the cancelled action.
	if _, err := f.orch.Submit(ctx, f.totpCode(t)); !errors.Is(err, domain.ErrNoChallengeOpen) {
		t.Fatalf("Submit after cancel error = %v, want ErrNoChallengeOpen", err)
	}
	if ran != 0 {
		t.Fatalf("cancelled action ran %d times, want 0", ran)
	}
}

func TestGateRequiresEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	if err := f.store.Disable(ctx, f.userID); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	ran := 0
	_, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran))
	if !errors.Is(err, domain.ErrEnrollmentRequired) {
		t.Fatalf("CheckAndChallenge error = %v, want ErrEnrollmentRequired", err)
	}
	if ran != 0 {
		t.Errorf("action ran %d times, want 0", ran)
	}
}

func TestGateDeniesWithoutTenantContext(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	policy := NewPolicyResolver(testLogger(), f.store)
	orch := NewOrchestrator(testLogger(), policy, f.verifier, f.store, f.recorder, Session{
		UserID: f.userID,
		Role:   domain.RoleAdmin,
	})

	ran := 0
	_, err := orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran))
	if !errors.Is(err, domain.ErrPolicyDenied) {
		t.Fatalf("CheckAndChallenge error = %v, want ErrPolicyDenied", err)
	}
	if ran != 0 {
		t.Errorf("action ran %d times, want 0", ran)
	}
}

func TestGateChallengeClosesAfterFreshnessEstablished(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	ran := 0
	if _, err := f.orch.CheckAndChallenge(ctx, domain.ActionRefund, countingAction(&ran)); err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}
	if ok, err := f.orch.Submit(ctx, f.totpCode(t)); err != nil || !ok {
		t.Fatalf("Submit = (%v, %v), want success", ok, err)
	}

	// The successful submission refreshed the session, so the next gated
	// action inside the window runs without a new challenge.
	second := 0
	challenge, err := f.orch.CheckAndChallenge(ctx, domain.ActionPayout, countingAction(&second))
	if err != nil {
		t.Fatalf("CheckAndChallenge: %v", err)
	}
	if challenge != nil {
		t.Fatal("verified session must not open another challenge inside the window")
	}
	if second != 1 {
		t.Errorf("second action ran %d times, want 1", second)
	}
}
