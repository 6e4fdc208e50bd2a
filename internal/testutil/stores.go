// stores.go
//
// Shared test doubles for the auth wiring: a migrated in-memory SQLite store,
// a stateful session cache, a recording mailer, a rate limiter, and an OAuth
// provider. Imported by test files across packages to avoid duplicate mocks.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

// NewSQLiteStore returns a migrated in-memory SQLite store, closed when t ends.
func NewSQLiteStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating sqlite: %v", err)
	}
	return db
}

// MockSessionCache is a stateful in-memory session cache.
// Use *Err fields to inject errors for specific operations.
type MockSessionCache struct {
	GetErr    error
	SetErr    error
	DeleteErr error
	HealthErr error

	Sessions map[string]store.CachedSession // keyed by base64url token hash
	Users    map[int64]map[string]bool      // per-user key sets

	mu sync.Mutex
}

// NewMockSessionCache returns an empty cache.
func NewMockSessionCache() *MockSessionCache {
	return &MockSessionCache{
		Sessions: make(map[string]store.CachedSession),
		Users:    make(map[int64]map[string]bool),
	}
}

func (m *MockSessionCache) CheckHealth(context.Context) error { return m.HealthErr }

func (m *MockSessionCache) GetSession(_ context.Context, tokenHash string) (*store.CachedSession, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &s, nil
}

func (m *MockSessionCache) SetSession(_ context.Context, tokenHash string, sess store.Session, _ time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[tokenHash] = store.CachedSession{UserID: sess.UserID, CSRFToken: sess.CSRFToken, ExpiresAt: sess.ExpiresAt}
	if m.Users[sess.UserID] == nil {
		m.Users[sess.UserID] = make(map[string]bool)
	}
	m.Users[sess.UserID][tokenHash] = true
	return nil
}

func (m *MockSessionCache) ExtendSession(ctx context.Context, tokenHash string, sess store.Session, ttl time.Duration) error {
	return m.SetSession(ctx, tokenHash, sess, ttl)
}

func (m *MockSessionCache) DeleteSession(_ context.Context, tokenHash string, userID int64) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, tokenHash)
	delete(m.Users[userID], tokenHash)
	return nil
}

func (m *MockSessionCache) DeleteAllUserSessions(_ context.Context, userID int64) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.Users[userID] {
		delete(m.Sessions, key)
	}
	delete(m.Users, userID)
	return nil
}

// Len returns the number of cached sessions.
func (m *MockSessionCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}

// SentMail is one message a MockMailer accepted.
type SentMail struct {
	Type      string // "verify" or "reset"
	To        string
	Token     string
	ExpiresIn time.Duration
	Vars      map[string]string
}

// MockMailer records every send. Err fails all sends.
type MockMailer struct {
	Err error

	mu   sync.Mutex
	Sent []SentMail
}

func (m *MockMailer) record(typ, to, token string, exp time.Duration, vars map[string]string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{Type: typ, To: to, Token: token, ExpiresIn: exp, Vars: vars})
	return nil
}

func (m *MockMailer) SendEmailVerification(_ context.Context, to, token string, exp time.Duration, vars map[string]string) error {
	return m.record("verify", to, token, exp, vars)
}

func (m *MockMailer) SendPasswordReset(_ context.Context, to, token string, exp time.Duration, vars map[string]string) error {
	return m.record("reset", to, token, exp, vars)
}

// Last returns the most recent message, or false if none was sent.
func (m *MockMailer) Last() (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

// Count returns how many messages were sent.
func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockRateLimiter records keys and returns Err for every call.
type MockRateLimiter struct {
	Err error

	mu   sync.Mutex
	Keys []string
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys = append(m.Keys, key)
	return m.Err
}

// ErrExchange is MockProvider's default exchange failure.
var ErrExchange = errors.New("exchange failed")

// MockProvider is an oauth.Provider returning fixed claims.
// A nil Claims makes Exchange fail with ErrExchange.
type MockProvider struct {
	ProviderName string
	Claims       *oauth.Claims

	mu           sync.Mutex
	LastCode     string
	LastVerifier string
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) Strategy() store.AuthStrategy { return store.StrategyGoogle }

func (m *MockProvider) AuthCodeURL(state, verifier string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastVerifier = verifier
	return "https://provider.test/auth?state=" + state
}

func (m *MockProvider) Exchange(_ context.Context, code, verifier string) (*oauth.Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastCode = code
	if verifier != m.LastVerifier {
		return nil, errors.New("pkce verifier mismatch")
	}
	if m.Claims == nil {
		return nil, ErrExchange
	}
	c := *m.Claims
	return &c, nil
}
