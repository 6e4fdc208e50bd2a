// models.go -- Shared domain types for the store package.
// Used by both SQL backends (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a row does not exist (or, for sessions and
// tokens, exists but has expired). Drivers' own no-rows errors never escape.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique or primary key constraint.
var ErrDuplicate = errors.New("duplicate key")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrCacheDisabled is returned by NoopSessionCache.CheckHealth when Redis is not configured.
var ErrCacheDisabled = errors.New("cache disabled")

// AuthStrategy identifies how a user proves identity.
type AuthStrategy string

const (
	StrategyLocal  AuthStrategy = "LOCAL"
	StrategyGoogle AuthStrategy = "GOOGLE_OAUTH"
)

// Valid reports whether s is a known strategy.
func (s AuthStrategy) Valid() bool {
	return s == StrategyLocal || s == StrategyGoogle
}

// TokenPurpose scopes a single-use token to one flow.
type TokenPurpose string

const (
	PurposeResetPassword TokenPurpose = "RESET_PASSWORD"
	PurposeVerifyEmail   TokenPurpose = "VERIFY_EMAIL"
)

// User represents a row in the users table.
// Nullable columns are pointers, nil means SQL NULL.
// PasswordHash is set iff AuthStrategy is LOCAL; ExternalID iff it is not.
type User struct {
	ID            int64
	ExternalID    *string
	Email         string
	PasswordHash  *string
	Name          string
	AuthStrategy  AuthStrategy
	EmailVerified bool
	CreatedAt     time.Time
	LastActiveAt  *time.Time
	LoginCount    int64
}

// NewUser holds the columns supplied on insert; the rest are defaulted by the store.
type NewUser struct {
	Email         string
	Name          string
	AuthStrategy  AuthStrategy
	PasswordHash  *string
	ExternalID    *string
	EmailVerified bool
}

// Token represents a row in the tokens table.
// Only the SHA-256 of the raw value is stored; TokenHash is the primary key.
type Token struct {
	TokenHash []byte
	Purpose   TokenPurpose
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Session represents a row in the sessions table.
// Nullable columns are pointers, nil means SQL NULL.
type Session struct {
	ID        uuid.UUID
	UserID    int64
	TokenHash []byte
	CSRFToken []byte
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// CachedSession is the JSON shape stored in Redis for cached sessions.
// Only the fields needed for fast session validation; full metadata lives in SQL.
type CachedSession struct {
	UserID    int64     `json:"user_id"`
	CSRFToken []byte    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RateLimit defines the policy for a rate-limited action.
// Zero MaxAttempts disables the check.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // fixed window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}

// Statistics is the aggregate view served by GET /stats.
type Statistics struct {
	TotalUsers      int64                  `json:"total_users"`
	VerifiedUsers   int64                  `json:"verified_users"`
	UsersByStrategy map[AuthStrategy]int64 `json:"users_by_strategy"`
	TotalLogins     int64                  `json:"total_logins"`
	ActiveUsers     int64                  `json:"active_last_24h"`
}
