// ratelimit.go -- Fixed-window rate limiter with lockout, backed by Redis.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts attempts per key in a fixed window.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a limiter sharing rdb with the session cache.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// allowScript increments the attempt counter and applies the lockout atomically.
// KEYS[1] = counter, KEYS[2] = lockout flag.
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms.
// Returns 1 if allowed, 0 if locked out.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return 0
end
return 1
`)

// Allow records an attempt for key under policy.
// Returns ErrRateLimitExceeded when locked out; any other error is a Redis failure.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	lockout := policy.LockoutTTL
	if lockout <= 0 {
		lockout = policy.Window
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key, "ratelimit:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), lockout.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// NoopRateLimiter allows everything. Used when REDIS_URL is unset.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }
