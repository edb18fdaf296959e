// Package replay tracks already-accepted one-time codes so a code accepted
// once can never be accepted again inside its own validity window.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Guard records accepted (scope, code, time-step) tuples until they expire.
//
// Lookups must exclude expired entries regardless of cleanup cadence, so
// correctness never depends on background sweeps.
type Guard interface {
	WasAccepted(ctx context.Context, scope, codeHash string, timeStep int64) (bool, error)
	RecordAccepted(ctx context.Context, scope, codeHash string, timeStep int64, ttl time.Duration) error
}

// HashCode produces the stored fingerprint of a normalized code. The plain
// code never reaches a store.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
