package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/audit"
	"github.com/corepay/stepup/pkg/domain"
)

// GatedAction is a sensitive operation captured by the gate and executed at
// most once, only after a successful step-up verification.
type GatedAction func(ctx context.Context) error

// Session identifies the caller on whose behalf actions are gated.
type Session struct {
	UserID    uuid.UUID
	TenantID  *uuid.UUID
	Role      domain.Role
	IP        string
	UserAgent string
}

// Challenge describes the single open challenge surface.
type Challenge struct {
	Action   domain.Action
	OpenedAt time.Time
	// RemainingAttempts is -1 until a failed submission reports the real
	// count from the verifier; it is never computed client-side.
	RemainingAttempts int
}

type pendingChallenge struct {
	action            GatedAction
	kind              domain.Action
	openedAt          time.Time
	inFlight          bool
	remainingAttempts int
}

// Orchestrator gates sensitive actions behind step-up verification for one
// session. Each session owns exactly one instance, passed by reference to
// call sites; the instance holds at most one captured action at a time and
// is never shared process-wide.
type Orchestrator struct {
	mu       sync.Mutex
	logger   *slog.Logger
	policy   *PolicyResolver
	verifier *Verifier
	factors  FactorStore
	recorder *audit.Recorder
	session  Session
	pending  *pendingChallenge
	now      func() time.Time
}

// NewOrchestrator creates the gate for one session.
func NewOrchestrator(
	logger *slog.Logger,
	policy *PolicyResolver,
	verifier *Verifier,
	factors FactorStore,
	recorder *audit.Recorder,
	session Session,
) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		policy:   policy,
		verifier: verifier,
		factors:  factors,
		recorder: recorder,
		session:  session,
		now:      time.Now,
	}
}

// CheckAndChallenge gates action behind step-up verification.
//
// A nil Challenge with nil error means the action ran immediately (step-up
// not required, or still fresh). A non-nil Challenge means the action was
// captured and a challenge surface opened; the action runs exactly once via
// a later successful Submit, or never, via Cancel. While a challenge is
// pending, further gate calls are rejected with domain.ErrChallengePending
// rather than queued, preserving the single-captured-action invariant.
func (o *Orchestrator) CheckAndChallenge(ctx context.Context, kind domain.Action, action GatedAction) (*Challenge, error) {
	required, err := o.policy.RequiresStepUp(ctx, o.session.TenantID, o.session.Role, kind)
	if err != nil {
		o.audit(ctx, domain.AuditGatedActionDenied, kind)
		return nil, err
	}
	if !required {
		return nil, o.run(ctx, kind, action)
	}

	factor, err := o.factors.Get(ctx, o.session.UserID)
	if err != nil && !errors.Is(err, domain.ErrFactorNotFound) {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if !factor.Enabled() {
		o.audit(ctx, domain.AuditGatedActionDenied, kind)
		return nil, domain.ErrEnrollmentRequired
	}

	window := o.policy.StepUpWindow(ctx, o.session.TenantID)
	if IsFresh(factor.LastVerifiedAt, window, o.now()) {
		return nil, o.run(ctx, kind, action)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return nil, domain.ErrChallengePending
	}
	o.pending = &pendingChallenge{
		action:            action,
		kind:              kind,
		openedAt:          o.now(),
		remainingAttempts: -1,
	}
	return &Challenge{Action: kind, OpenedAt: o.pending.openedAt, RemainingAttempts: -1}, nil
}

// Submit verifies a code against the open challenge. On success the
// captured action runs exactly once and the surface closes. On failure the
// surface stays open with the verifier-reported remaining attempt count.
// Only one submission may be in flight; a second concurrent submit is
// rejected, not raced. A verification that fails transiently never runs the
// action: the gate fails safe, never open.
func (o *Orchestrator) Submit(ctx context.Context, code domain.Code) (bool, error) {
	o.mu.Lock()
	if o.pending == nil {
		o.mu.Unlock()
		return false, domain.ErrNoChallengeOpen
	}
	if o.pending.inFlight {
		o.mu.Unlock()
		return false, domain.ErrSubmitInFlight
	}
	o.pending.inFlight = true
	o.mu.Unlock()

	res, err := o.verifier.Verify(ctx, o.session.UserID, code)

	o.mu.Lock()
	if o.pending == nil {
		// Cancelled while the verification was in flight: the captured
		// action is gone and must not run.
		o.mu.Unlock()
		return false, domain.ErrNoChallengeOpen
	}
	o.pending.inFlight = false

	if err != nil || !res.OK {
		o.pending.remainingAttempts = res.RemainingAttempts
		o.mu.Unlock()
		if err != nil {
			return false, err
		}
		return false, domain.ErrInvalidCode
	}

	action := o.pending.action
	kind := o.pending.kind
	o.pending = nil
	o.mu.Unlock()

	return true, o.run(ctx, kind, action)
}

// Cancel discards the captured action, guaranteeing it never runs.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	if pending != nil {
		o.audit(ctx, domain.AuditGatedActionCancelled, pending.kind)
	}
}

// Open returns the current challenge surface, or nil when none is open.
func (o *Orchestrator) Open() *Challenge {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil
	}
	return &Challenge{
		Action:            o.pending.kind,
		OpenedAt:          o.pending.openedAt,
		RemainingAttempts: o.pending.remainingAttempts,
	}
}

func (o *Orchestrator) run(ctx context.Context, kind domain.Action, action GatedAction) error {
	err := action(ctx)
	o.audit(ctx, domain.AuditGatedActionExecuted, kind)
	return err
}

func (o *Orchestrator) audit(ctx context.Context, action domain.AuditAction, kind domain.Action) {
	o.recorder.Record(ctx, domain.AuditEvent{
		Action:    action,
		ActorID:   o.session.UserID,
		TargetID:  o.session.UserID,
		TenantID:  o.session.TenantID,
		IP:        o.session.IP,
		UserAgent: o.session.UserAgent,
		After:     []byte(fmt.Sprintf(`{"gated_action":%q}`, kind)),
	})
}
