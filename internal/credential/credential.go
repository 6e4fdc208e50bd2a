// Package credential owns user records and password secrets.
//
// It is the only package that hashes or verifies passwords. Callers pass a
// Secret to CreateUser to pick the strategy: Password for local accounts,
// External for accounts backed by an identity provider.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/store"
)

var (
	// ErrNotFound is returned by the Find* methods when no user matches.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicateIdentity is returned when the email or external identity is already registered.
	ErrDuplicateIdentity = errors.New("email or identity already registered")

	// ErrInvalidArgument is returned for arguments that can never succeed, such as
	// looking up a LOCAL user by external identity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoPasswordSet is returned by VerifyPassword for users without a local password.
	ErrNoPasswordSet = errors.New("user has no password")
)

// Repository is the persistence the credential store needs.
// Satisfied by *store.PostgresStore and *store.SQLiteStore.
type Repository interface {
	CreateUser(ctx context.Context, nu store.NewUser) (*store.User, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByExternalID(ctx context.Context, strategy store.AuthStrategy, externalID string) (*store.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	UpdateUserName(ctx context.Context, id int64, name string) error
	SetEmailVerified(ctx context.Context, id int64) error
	RecordActivity(ctx context.Context, id int64, at time.Time, isLogin bool) error
}

// Secret is the credential supplied at account creation: Password or External.
type Secret interface {
	strategy() store.AuthStrategy
}

// Password is a plaintext password for a LOCAL account.
type Password string

func (Password) strategy() store.AuthStrategy { return store.StrategyLocal }

// External is a provider-asserted identity for an OAuth account.
type External struct {
	Strategy store.AuthStrategy
	ID       string
}

func (e External) strategy() store.AuthStrategy { return e.Strategy }

// Store creates, finds, and updates users, and verifies their passwords.
type Store struct {
	repo      Repository
	hasher    Hasher
	dummyHash string
	now       func() time.Time
}

// New returns a Store that hashes new passwords with hasher.
func New(repo Repository, hasher Hasher) (*Store, error) {
	// Hashed once so unknown-account logins cost the same as real ones.
	dummy, err := hasher.Hash("gatehouse-timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("computing dummy hash: %w", err)
	}
	return &Store{repo: repo, hasher: hasher, dummyHash: dummy, now: time.Now}, nil
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
	default:
		return err
	}
}

// CreateUser registers a user. LOCAL users start unverified; external users start verified.
func (s *Store) CreateUser(ctx context.Context, name, email string, secret Secret) (*store.User, error) {
	nu := store.NewUser{
		Email:        NormalizeEmail(email),
		Name:         strings.TrimSpace(name),
		AuthStrategy: secret.strategy(),
	}

	switch sec := secret.(type) {
	case Password:
		hash, err := s.hasher.Hash(string(sec))
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		nu.PasswordHash = &hash
	case External:
		if sec.Strategy == store.StrategyLocal || !sec.Strategy.Valid() || sec.ID == "" {
			return nil, fmt.Errorf("%w: external identity needs a non-local strategy and id", ErrInvalidArgument)
		}
		id := sec.ID
		nu.ExternalID = &id
		nu.EmailVerified = true
	default:
		return nil, fmt.Errorf("%w: unknown secret type %T", ErrInvalidArgument, secret)
	}

	u, err := s.repo.CreateUser(ctx, nu)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// FindByEmail returns the user with the given email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// FindByID returns the user with the given id.
func (s *Store) FindByID(ctx context.Context, id int64) (*store.User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// FindByExternalIdentity returns the user linked to a provider identity.
// LOCAL is rejected: local users have no external id.
func (s *Store) FindByExternalIdentity(ctx context.Context, strategy store.AuthStrategy, externalID string) (*store.User, error) {
	if strategy == store.StrategyLocal || !strategy.Valid() {
		return nil, fmt.Errorf("%w: strategy %q has no external identity", ErrInvalidArgument, strategy)
	}
	u, err := s.repo.GetUserByExternalID(ctx, strategy, externalID)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// VerifyPassword checks plaintext against the user's stored hash.
func (s *Store) VerifyPassword(u *store.User, plaintext string) (bool, error) {
	if u.PasswordHash == nil {
		return false, ErrNoPasswordSet
	}
	return Verify(plaintext, *u.PasswordHash)
}

// BurnHash runs a verification against a throwaway hash and discards the result.
// Login paths that fail before a real verification call it to keep timing uniform.
func (s *Store) BurnHash(plaintext string) {
	Verify(plaintext, s.dummyHash)
}

// RecordActivity stamps last_active_at and, for logins, increments login_count by one.
func (s *Store) RecordActivity(ctx context.Context, userID int64, isLogin bool) error {
	if err := s.repo.RecordActivity(ctx, userID, s.now(), isLogin); err != nil {
		return mapErr(err)
	}
	return nil
}

// UpdatePassword re-hashes plaintext and overwrites only the password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
		return mapErr(err)
	}
	return nil
}

// UpdateName changes the display name.
func (s *Store) UpdateName(ctx context.Context, userID int64, name string) error {
	if err := s.repo.UpdateUserName(ctx, userID, strings.TrimSpace(name)); err != nil {
		return mapErr(err)
	}
	return nil
}

// MarkEmailVerified sets the verified flag. Idempotent.
func (s *Store) MarkEmailVerified(ctx context.Context, userID int64) error {
	if err := s.repo.SetEmailVerified(ctx, userID); err != nil {
		return mapErr(err)
	}
	return nil
}
