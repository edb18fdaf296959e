package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a process-local Limiter. Windows are purged lazily on
// access, so correctness does not depend on a background sweeper.
type MemoryLimiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter. Endpoints without a rule
// fall back to the generic API budget.
func NewMemoryLimiter(rules map[string]Rule) *MemoryLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &MemoryLimiter{
		rules:   rules,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) rule(endpoint string) Rule {
	if r, ok := l.rules[endpoint]; ok {
		return r
	}
	if r, ok := l.rules[EndpointAPI]; ok {
		return r
	}
	return Rule{MaxRequests: 100, Window: time.Minute}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, identifier, endpoint string) (Result, error) {
	rule := l.rule(endpoint)
	key := identifier + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= rule.Window {
		l.windows[key] = &window{start: now, count: 1}
		return Result{Allowed: true, Remaining: rule.MaxRequests - 1, ResetAt: now.Add(rule.Window)}, nil
	}

	resetAt := w.start.Add(rule.Window)
	if w.count >= rule.MaxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	w.count++
	return Result{Allowed: true, Remaining: rule.MaxRequests - w.count, ResetAt: resetAt}, nil
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(_ context.Context, identifier, endpoint string) error {
	key := identifier + "|" + endpoint
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

// SetClock overrides the time source. Intended for tests.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
