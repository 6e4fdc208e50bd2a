// Package tokens issues and redeems purpose-scoped, single-use tokens
// (email verification, password reset).
//
// Lifecycle: ISSUED -> VALID until expiry -> CONSUMED or EXPIRED. Both terminal
// states end with the row deleted, either by Redeem or by SweepExpired.
// Only the SHA-256 of a token is persisted; the raw value exists once, in the
// Token returned by Issue, and is what gets mailed to the user.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/store"
)

// valueBytes is the random length before encoding: 33 bytes -> 44 base64url chars, 264 bits.
const valueBytes = 33

// ValueLength is the length of an encoded token value.
const ValueLength = 44

// maxIssueAttempts bounds retries on a primary-key collision.
const maxIssueAttempts = 3

// ErrTokenGenerationFailed is returned when every insert attempt collided.
var ErrTokenGenerationFailed = errors.New("token generation failed")

// Repository is the token persistence the manager needs.
// Satisfied by *store.PostgresStore and *store.SQLiteStore.
type Repository interface {
	CreateToken(ctx context.Context, t store.Token) error
	GetTokenByHash(ctx context.Context, tokenHash []byte) (*store.Token, error)
	DeleteToken(ctx context.Context, tokenHash []byte) error
	ConsumeToken(ctx context.Context, tokenHash []byte, purpose store.TokenPurpose, now time.Time) (int64, error)
	DeleteUserTokens(ctx context.Context, userID int64, purpose store.TokenPurpose) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Token is an issued token. Value is only populated by Issue.
type Token struct {
	Value     string
	Purpose   store.TokenPurpose
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager owns token issue, validation, consumption, and expiry sweeps.
type Manager struct {
	repo   Repository
	now    func() time.Time
	random func([]byte) (int, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRandom overrides the entropy source.
func WithRandom(read func([]byte) (int, error)) Option {
	return func(m *Manager) { m.random = read }
}

// NewManager returns a Manager backed by repo.
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{repo: repo, now: time.Now, random: rand.Read}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// hashValue returns the storage key for a raw value, or false if the value is malformed.
func hashValue(value string) ([]byte, bool) {
	if len(value) != ValueLength {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) != valueBytes {
		return nil, false
	}
	sum := sha256.Sum256(raw)
	return sum[:], true
}

// Issue creates a token for userID valid for ttl.
// Collisions are retried up to three times before ErrTokenGenerationFailed.
func (m *Manager) Issue(ctx context.Context, userID int64, purpose store.TokenPurpose, ttl time.Duration) (*Token, error) {
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		raw := make([]byte, valueBytes)
		if _, err := m.random(raw); err != nil {
			return nil, fmt.Errorf("reading random bytes: %w", err)
		}
		sum := sha256.Sum256(raw)
		now := m.now()
		row := store.Token{
			TokenHash: sum[:],
			Purpose:   purpose,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err := m.repo.CreateToken(ctx, row)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing token: %w", err)
		}
		return &Token{
			Value:     base64.RawURLEncoding.EncodeToString(raw),
			Purpose:   purpose,
			UserID:    userID,
			CreatedAt: row.CreatedAt,
			ExpiresAt: row.ExpiresAt,
		}, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTokenGenerationFailed, maxIssueAttempts)
}

// Reissue deletes the user's outstanding tokens for purpose, then issues a fresh one.
func (m *Manager) Reissue(ctx context.Context, userID int64, purpose store.TokenPurpose, ttl time.Duration) (*Token, error) {
	if err := m.DeleteAllForPurpose(ctx, userID, purpose); err != nil {
		return nil, err
	}
	return m.Issue(ctx, userID, purpose, ttl)
}

// Validate returns the token when it exists, matches purpose, and has not expired.
// Absent, mismatched, expired, and malformed tokens all yield (nil, nil);
// only store failures are errors.
func (m *Manager) Validate(ctx context.Context, value string, purpose store.TokenPurpose) (*Token, error) {
	h, ok := hashValue(value)
	if !ok {
		return nil, nil
	}
	row, err := m.repo.GetTokenByHash(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching token: %w", err)
	}
	if row.Purpose != purpose || !m.now().Before(row.ExpiresAt) {
		return nil, nil
	}
	return &Token{
		Purpose:   row.Purpose,
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Redeem atomically deletes a live token of the given purpose and returns its owner.
// At most one caller redeems a given value; every other caller, and any
// absent, mismatched, expired, or malformed value, gets ok == false.
func (m *Manager) Redeem(ctx context.Context, value string, purpose store.TokenPurpose) (userID int64, ok bool, err error) {
	h, valid := hashValue(value)
	if !valid {
		return 0, false, nil
	}
	userID, err = m.repo.ConsumeToken(ctx, h, purpose, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redeeming token: %w", err)
	}
	return userID, true, nil
}

// Consume deletes the token. Consuming an absent token is not an error.
func (m *Manager) Consume(ctx context.Context, value string) error {
	h, ok := hashValue(value)
	if !ok {
		return nil
	}
	if err := m.repo.DeleteToken(ctx, h); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// DeleteAllForPurpose removes every token the user holds for purpose.
func (m *Manager) DeleteAllForPurpose(ctx context.Context, userID int64, purpose store.TokenPurpose) error {
	if _, err := m.repo.DeleteUserTokens(ctx, userID, purpose); err != nil {
		return fmt.Errorf("deleting %s tokens: %w", purpose, err)
	}
	return nil
}

// SweepExpired deletes every expired token and returns how many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpiredTokens(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tokens: %w", err)
	}
	return n, nil
}
