// redis.go -- go-redis client for session caching.
//
// Stores session data with TTL matching session expiry.
// Fast path for session validation; the SQL store stays the source of truth.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings.
// The returned client is shared by the session cache, rate limiter, and mail queue.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for session cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a session cache backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func sessionKey(tokenHash string) string { return "session:" + tokenHash }

func userSessionsKey(userID int64) string { return fmt.Sprintf("user_sessions:%d", userID) }

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetSession caches a session with the given TTL.
// Also tracks the token hash in a per-user set for bulk deletion.
func (s *RedisStore) SetSession(ctx context.Context, tokenHash string, sess Session, ttl time.Duration) error {
	payload, err := json.Marshal(CachedSession{
		UserID:    sess.UserID,
		CSRFToken: sess.CSRFToken,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(tokenHash), payload, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession retrieves a cached session by token hash.
// Returns ErrCacheMiss when the key does not exist.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &cached, nil
}

// ExtendSession refreshes the cached expiry and key TTL in one transaction.
func (s *RedisStore) ExtendSession(ctx context.Context, tokenHash string, sess Session, ttl time.Duration) error {
	return s.SetSession(ctx, tokenHash, sess, ttl)
}

// DeleteSession removes a single cached session and its entry in the user set.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string, userID int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	pipe.SRem(ctx, userSessionsKey(userID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes every cached session for userID.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	setKey := userSessionsKey(userID)
	hashes, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, sessionKey(hash))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// NoopSessionCache satisfies the session cache contract when REDIS_URL is unset.
// Every lookup misses, so callers fall through to the SQL store.
type NoopSessionCache struct{}

func (NoopSessionCache) CheckHealth(context.Context) error { return ErrCacheDisabled }

func (NoopSessionCache) SetSession(context.Context, string, Session, time.Duration) error {
	return nil
}

func (NoopSessionCache) GetSession(context.Context, string) (*CachedSession, error) {
	return nil, ErrCacheMiss
}

func (NoopSessionCache) ExtendSession(context.Context, string, Session, time.Duration) error {
	return nil
}

func (NoopSessionCache) DeleteSession(context.Context, string, int64) error { return nil }

func (NoopSessionCache) DeleteAllUserSessions(context.Context, int64) error { return nil }
