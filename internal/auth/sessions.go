// sessions.go -- Server-side session lifecycle over the SQL store and Redis cache.
//
// SQL is the source of truth. Redis is a read-through cache keyed by
// base64url(SHA-256(token)); cache failures are logged and never fatal.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/gofrs/uuid/v5"
)

// SessionStore is the durable session persistence.
// Satisfied by *store.PostgresStore and *store.SQLiteStore.
type SessionStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*store.Session, error)
	ExtendSession(ctx context.Context, tokenHash []byte, expiresAt time.Time) error
	DeleteSession(ctx context.Context, tokenHash []byte) error
	DeleteAllUserSessions(ctx context.Context, userID int64) error
}

// SessionCache is the session fast path.
// Satisfied by *store.RedisStore and store.NoopSessionCache.
type SessionCache interface {
	GetSession(ctx context.Context, tokenHash string) (*store.CachedSession, error)
	SetSession(ctx context.Context, tokenHash string, sess store.Session, ttl time.Duration) error
	ExtendSession(ctx context.Context, tokenHash string, sess store.Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, tokenHash string, userID int64) error
	DeleteAllUserSessions(ctx context.Context, userID int64) error
}

// IssuedSession is a freshly created session. RawToken goes in the cookie and is never stored.
type IssuedSession struct {
	RawToken  [32]byte
	CSRFToken []byte
	TokenHash []byte
	UserID    int64
	ExpiresAt time.Time
}

// ResolvedSession is a live session found by token hash.
type ResolvedSession struct {
	UserID    int64
	TokenHash []byte
	CSRFToken []byte
	ExpiresAt time.Time
}

// SessionManager creates, resolves, slides, and destroys sessions.
type SessionManager struct {
	db    SessionStore
	cache SessionCache
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager returns a manager issuing sessions that expire after ttl of inactivity.
func NewSessionManager(db SessionStore, cache SessionCache, ttl time.Duration) *SessionManager {
	if cache == nil {
		cache = store.NoopSessionCache{}
	}
	return &SessionManager{db: db, cache: cache, ttl: ttl, now: time.Now}
}

// TTL returns the inactivity timeout.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

func cacheKey(tokenHash []byte) string {
	return base64.RawURLEncoding.EncodeToString(tokenHash)
}

// HashSessionToken returns the storage key for a raw session token.
func HashSessionToken(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Create stores a new session for userID. ip and userAgent are optional metadata.
func (m *SessionManager) Create(ctx context.Context, userID int64, ip, userAgent *string) (*IssuedSession, error) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	csrf, err := GenerateCSRFToken()
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := m.now()
	sess := store.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash[:],
		CSRFToken: csrf[:],
		ExpiresAt: now.Add(m.ttl),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := m.db.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if err := m.cache.SetSession(ctx, cacheKey(sess.TokenHash), sess, m.ttl); err != nil {
		slog.Warn("failed to cache new session", "component", "sessions", "user_id", userID, "error", err)
	}

	return &IssuedSession{
		RawToken:  *token,
		CSRFToken: sess.CSRFToken,
		TokenHash: sess.TokenHash,
		UserID:    userID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Resolve finds the live session for tokenHash. Returns (nil, nil) when there is none.
func (m *SessionManager) Resolve(ctx context.Context, tokenHash []byte) (*ResolvedSession, error) {
	key := cacheKey(tokenHash)
	now := m.now()

	cached, err := m.cache.GetSession(ctx, key)
	if err == nil && now.Before(cached.ExpiresAt) {
		return &ResolvedSession{
			UserID:    cached.UserID,
			TokenHash: tokenHash,
			CSRFToken: cached.CSRFToken,
			ExpiresAt: cached.ExpiresAt,
		}, nil
	}
	if err != nil && !errors.Is(err, store.ErrCacheMiss) {
		slog.Error("session cache lookup failed, falling back to store", "component", "sessions", "error", err)
	}

	sess, err := m.db.GetSessionByTokenHash(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	if !now.Before(sess.ExpiresAt) {
		return nil, nil
	}

	// Repopulate; a zero TTL would mean "no expiry" in Redis.
	if ttl := sess.ExpiresAt.Sub(now); ttl > 0 {
		if err := m.cache.SetSession(ctx, key, *sess, ttl); err != nil {
			slog.Warn("failed to repopulate session cache", "component", "sessions", "error", err)
		} else if live, err := m.stillStored(ctx, tokenHash); err != nil {
			return nil, err
		} else if !live {
			// Destroyed between the read and the write; Destroy deletes SQL
			// before the cache, so this recheck or its cache delete wins.
			if err := m.cache.DeleteSession(ctx, key, sess.UserID); err != nil {
				slog.Warn("failed to evict destroyed session", "component", "sessions", "user_id", sess.UserID, "error", err)
			}
			return nil, nil
		}
	}
	return &ResolvedSession{
		UserID:    sess.UserID,
		TokenHash: tokenHash,
		CSRFToken: sess.CSRFToken,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// stillStored reports whether the SQL row for tokenHash exists.
func (m *SessionManager) stillStored(ctx context.Context, tokenHash []byte) (bool, error) {
	_, err := m.db.GetSessionByTokenHash(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rechecking session: %w", err)
	}
	return true, nil
}

// Slide pushes expiry to now+TTL once less than half the TTL remains.
// Returns the new expiry and true when it moved.
func (m *SessionManager) Slide(ctx context.Context, s *ResolvedSession) (time.Time, bool, error) {
	now := m.now()
	if s.ExpiresAt.Sub(now) >= m.ttl/2 {
		return s.ExpiresAt, false, nil
	}
	expiresAt := now.Add(m.ttl)
	if err := m.db.ExtendSession(ctx, s.TokenHash, expiresAt); err != nil {
		return s.ExpiresAt, false, fmt.Errorf("extending session: %w", err)
	}
	cached := store.Session{UserID: s.UserID, TokenHash: s.TokenHash, CSRFToken: s.CSRFToken, ExpiresAt: expiresAt}
	if err := m.cache.ExtendSession(ctx, cacheKey(s.TokenHash), cached, m.ttl); err != nil {
		slog.Warn("failed to extend cached session", "component", "sessions", "error", err)
	}
	s.ExpiresAt = expiresAt
	return expiresAt, true, nil
}

// Destroy deletes one session, SQL first so a concurrent Resolve cannot re-cache it.
func (m *SessionManager) Destroy(ctx context.Context, tokenHash []byte, userID int64) error {
	if err := m.db.DeleteSession(ctx, tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := m.cache.DeleteSession(ctx, cacheKey(tokenHash), userID); err != nil {
		slog.Warn("failed to delete cached session", "component", "sessions", "user_id", userID, "error", err)
	}
	return nil
}

// DestroyAll deletes every session userID holds.
func (m *SessionManager) DestroyAll(ctx context.Context, userID int64) error {
	if err := m.db.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	if err := m.cache.DeleteAllUserSessions(ctx, userID); err != nil {
		slog.Warn("failed to delete cached sessions", "component", "sessions", "user_id", userID, "error", err)
	}
	return nil
}
