package replay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
}

// MemoryGuard is a process-local Guard. Expired entries are skipped at
// lookup time and pruned opportunistically on write.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory replay guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func key(scope, codeHash string, timeStep int64) string {
	return fmt.Sprintf("%s|%s|%d", scope, codeHash, timeStep)
}

// WasAccepted implements Guard.
func (g *MemoryGuard) WasAccepted(_ context.Context, scope, codeHash string, timeStep int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key(scope, codeHash, timeStep)]
	if !ok {
		return false, nil
	}
	if !g.now().Before(e.expiresAt) {
		delete(g.entries, key(scope, codeHash, timeStep))
		return false, nil
	}
	return true, nil
}

// RecordAccepted implements Guard.
func (g *MemoryGuard) RecordAccepted(_ context.Context, scope, codeHash string, timeStep int64, ttl time.Duration) error {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, e := range g.entries {
		if !now.Before(e.expiresAt) {
			delete(g.entries, k)
		}
	}
	g.entries[key(scope, codeHash, timeStep)] = entry{expiresAt: now.Add(ttl)}
	return nil
}

// SetClock overrides the time source. Intended for tests.
func (g *MemoryGuard) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}
