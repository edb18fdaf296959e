package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corepay/stepup/pkg/domain"
)

// RedisLimiter is a fixed-window Limiter backed by Redis, for multi-replica
// deployments where every replica must share one attempt budget. The window
// key expires with the window itself; INCR on a fresh key starts a new one.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	rules  map[string]Rule
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.Cmdable, prefix string, rules map[string]Rule) *RedisLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if prefix == "" {
		prefix = "stepup:rl"
	}
	return &RedisLimiter{client: client, prefix: prefix, rules: rules}
}

func (l *RedisLimiter) rule(endpoint string) Rule {
	if r, ok := l.rules[endpoint]; ok {
		return r
	}
	if r, ok := l.rules[EndpointAPI]; ok {
		return r
	}
	return Rule{MaxRequests: 100, Window: time.Minute}
}

func (l *RedisLimiter) key(identifier, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, endpoint, identifier)
}

// Check implements Limiter. Storage failures surface as ErrTransientStore so
// the caller can apply its fail-open policy.
func (l *RedisLimiter) Check(ctx context.Context, identifier, endpoint string) (Result, error) {
	rule := l.rule(endpoint)
	key := l.key(identifier, endpoint)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Do(ctx, "pexpire", key, rule.Window.Milliseconds(), "NX")
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	count := incr.Val()
	ttl := pttl.Val()
	if ttl < 0 {
		ttl = rule.Window
	}
	resetAt := time.Now().Add(ttl)

	if count > int64(rule.MaxRequests) {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{
		Allowed:   true,
		Remaining: rule.MaxRequests - int(count),
		ResetAt:   resetAt,
	}, nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, identifier, endpoint string) error {
	if err := l.client.Del(ctx, l.key(identifier, endpoint)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return nil
}
