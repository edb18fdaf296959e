package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// MemoryStore is a process-local implementation of the factor, recovery
// code, policy and audit stores. It backs single-replica deployments with
// no database configured, and tests.
type MemoryStore struct {
	mu       sync.Mutex
	factors  map[uuid.UUID]*domain.AuthFactor
	codes    map[uuid.UUID][]*domain.RecoveryCode
	policies map[uuid.UUID]*domain.SecurityPolicy
	platform *domain.SecurityPolicy
	events   []*domain.AuditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		factors:  make(map[uuid.UUID]*domain.AuthFactor),
		codes:    make(map[uuid.UUID][]*domain.RecoveryCode),
		policies: make(map[uuid.UUID]*domain.SecurityPolicy),
	}
}

// Get retrieves the factor for a user.
func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*domain.AuthFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, ok := s.factors[userID]
	if !ok {
		return nil, domain.ErrFactorNotFound
	}
	cp := *factor
	return &cp, nil
}

// SavePending upserts a factor in pending_enrollment state.
func (s *MemoryStore) SavePending(_ context.Context, factor *domain.AuthFactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *factor
	cp.Status = domain.FactorPendingEnrollment
	cp.LastVerifiedAt = nil
	s.factors[factor.UserID] = &cp
	return nil
}

// Enable flips a pending factor to enabled and installs the code set.
func (s *MemoryStore) Enable(_ context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, ok := s.factors[userID]
	if !ok || factor.Status != domain.FactorPendingEnrollment {
		return domain.ErrNoPendingEnrollment
	}
	factor.Status = domain.FactorEnabled
	factor.UpdatedAt = time.Now()
	s.codes[userID] = cloneCodes(codes)
	return nil
}

// Disable clears the secret and removes every recovery code.
func (s *MemoryStore) Disable(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if factor, ok := s.factors[userID]; ok {
		factor.Status = domain.FactorDisabled
		factor.SecretSealed = ""
		factor.UpdatedAt = time.Now()
	}
	delete(s.codes, userID)
	return nil
}

// TouchVerified records a successful step-up verification.
func (s *MemoryStore) TouchVerified(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if factor, ok := s.factors[userID]; ok {
		t := at
		factor.LastVerifiedAt = &t
	}
	return nil
}

// Replace swaps the user's entire recovery code set.
func (s *MemoryStore) Replace(_ context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[userID] = cloneCodes(codes)
	return nil
}

// ListUnused returns the user's unconsumed recovery codes.
func (s *MemoryStore) ListUnused(_ context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unused []*domain.RecoveryCode
	for _, code := range s.codes[userID] {
		if !code.IsUsed() {
			cp := *code
			unused = append(unused, &cp)
		}
	}
	return unused, nil
}

// MarkUsed consumes a single recovery code.
func (s *MemoryStore) MarkUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, codes := range s.codes {
		for _, code := range codes {
			if code.ID == id {
				if code.IsUsed() {
					return domain.ErrInvalidCode
				}
				now := time.Now()
				code.UsedAt = &now
				return nil
			}
		}
	}
	return domain.ErrInvalidCode
}

// CountUnused returns the number of unused recovery codes for a user.
func (s *MemoryStore) CountUnused(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, code := range s.codes[userID] {
		if !code.IsUsed() {
			count++
		}
	}
	return count, nil
}

// GetPlatform retrieves the platform-wide policy singleton.
func (s *MemoryStore) GetPlatform(_ context.Context) (*domain.SecurityPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.platform == nil {
		return nil, domain.ErrPolicyNotFound
	}
	cp := *s.platform
	return &cp, nil
}

// GetTenant retrieves the policy for a tenant.
func (s *MemoryStore) GetTenant(_ context.Context, tenantID uuid.UUID) (*domain.SecurityPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[tenantID]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	cp := *policy
	return &cp, nil
}

// SetPolicy stores a policy; a nil tenant id sets the platform singleton.
func (s *MemoryStore) SetPolicy(policy *domain.SecurityPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *policy
	if policy.TenantID == nil {
		s.platform = &cp
		return
	}
	s.policies[*policy.TenantID] = &cp
}

// Append stores an audit event.
func (s *MemoryStore) Append(_ context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a snapshot of recorded audit events.
func (s *MemoryStore) Events() []*domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func cloneCodes(codes []*domain.RecoveryCode) []*domain.RecoveryCode {
	out := make([]*domain.RecoveryCode, len(codes))
	for i, code := range codes {
		cp := *code
		out[i] = &cp
	}
	return out
}
