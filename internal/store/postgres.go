// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the durable store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool wrapped in a store.
// Call once at startup; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgErr maps driver errors onto the store sentinels.
func pgErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pe.ConstraintName)
	}
	return err
}

// --- Users ---

const pgUserColumns = `id, external_id, email, password_hash, name, auth_strategy,
	is_email_verified, created_at, last_active_at, login_count`

func scanPGUser(row pgx.Row) (*User, error) {
	var u User
	var strategy string
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.PasswordHash, &u.Name, &strategy,
		&u.EmailVerified, &u.CreatedAt, &u.LastActiveAt, &u.LoginCount)
	if err != nil {
		return nil, pgErr(err)
	}
	u.AuthStrategy = AuthStrategy(strategy)
	return &u, nil
}

// CreateUser inserts a user and returns the stored row.
// Returns ErrDuplicate when the email or (strategy, external_id) is taken.
func (s *PostgresStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	u, err := scanPGUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, auth_strategy, password_hash, external_id, is_email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+pgUserColumns,
		nu.Email, nu.Name, string(nu.AuthStrategy), nu.PasswordHash, nu.ExternalID, nu.EmailVerified))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetUserByID fetches a user by primary key.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanPGUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail fetches a user by (lower-cased) email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanPGUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByExternalID fetches a user by provider identity.
func (s *PostgresStore) GetUserByExternalID(ctx context.Context, strategy AuthStrategy, externalID string) (*User, error) {
	return scanPGUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE auth_strategy = $1 AND external_id = $2`,
		string(strategy), externalID))
}

// ListUsers returns every user ordered by id.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanPGUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// execOne runs a single-row UPDATE and returns ErrNotFound when nothing matched.
func (s *PostgresStore) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword overwrites password_hash only.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return s.execOne(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

// UpdateUserName overwrites the display name.
func (s *PostgresStore) UpdateUserName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, `UPDATE users SET name = $2 WHERE id = $1`, id, name)
}

// SetEmailVerified marks the user's email as verified. Idempotent.
func (s *PostgresStore) SetEmailVerified(ctx context.Context, id int64) error {
	return s.execOne(ctx, `UPDATE users SET is_email_verified = TRUE WHERE id = $1`, id)
}

// RecordActivity sets last_active_at and, for logins, increments login_count.
// The read of the prior count and the write share one transaction with the row locked.
func (s *PostgresStore) RecordActivity(ctx context.Context, id int64, at time.Time, isLogin bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning activity tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int64
	if err := tx.QueryRow(ctx,
		`SELECT login_count FROM users WHERE id = $1 FOR UPDATE`, id,
	).Scan(&count); err != nil {
		return pgErr(err)
	}
	if isLogin {
		count++
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET last_active_at = $2, login_count = $3 WHERE id = $1`,
		id, at, count); err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	return tx.Commit(ctx)
}

// GetStatistics aggregates user counts; activeSince bounds the "active" window.
func (s *PostgresStore) GetStatistics(ctx context.Context, activeSince time.Time) (*Statistics, error) {
	st := Statistics{UsersByStrategy: map[AuthStrategy]int64{StrategyLocal: 0, StrategyGoogle: 0}}
	var local, google int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_email_verified),
		        COUNT(*) FILTER (WHERE auth_strategy = 'LOCAL'),
		        COUNT(*) FILTER (WHERE auth_strategy = 'GOOGLE_OAUTH'),
		        COALESCE(SUM(login_count), 0)::BIGINT,
		        COUNT(*) FILTER (WHERE last_active_at >= $1)
		 FROM users`, activeSince,
	).Scan(&st.TotalUsers, &st.VerifiedUsers, &local, &google, &st.TotalLogins, &st.ActiveUsers)
	if err != nil {
		return nil, fmt.Errorf("aggregating statistics: %w", err)
	}
	st.UsersByStrategy[StrategyLocal] = local
	st.UsersByStrategy[StrategyGoogle] = google
	return &st, nil
}

// --- Tokens ---

// CreateToken inserts a token row. Returns ErrDuplicate on hash collision.
func (s *PostgresStore) CreateToken(ctx context.Context, t Token) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (token_hash, purpose, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.TokenHash, string(t.Purpose), t.UserID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting token: %w", pgErr(err))
	}
	return nil
}

// GetTokenByHash fetches a token regardless of expiry; callers check validity.
func (s *PostgresStore) GetTokenByHash(ctx context.Context, tokenHash []byte) (*Token, error) {
	var t Token
	var purpose string
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, purpose, user_id, created_at, expires_at FROM tokens WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.TokenHash, &purpose, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, pgErr(err)
	}
	t.Purpose = TokenPurpose(purpose)
	return &t, nil
}

// DeleteToken removes a token. Deleting a missing token is not an error.
func (s *PostgresStore) DeleteToken(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE token_hash = $1`, tokenHash)
	return err
}

// ConsumeToken deletes a live token of the given purpose and returns its owner.
// Returns ErrNotFound if the token is missing, expired, or of another purpose.
func (s *PostgresStore) ConsumeToken(ctx context.Context, tokenHash []byte, purpose TokenPurpose, now time.Time) (int64, error) {
	var userID int64
	err := s.pool.QueryRow(ctx,
		`DELETE FROM tokens WHERE token_hash = $1 AND purpose = $2 AND expires_at > $3 RETURNING user_id`,
		tokenHash, string(purpose), now,
	).Scan(&userID)
	if err != nil {
		return 0, pgErr(err)
	}
	return userID, nil
}

// DeleteUserTokens removes every token of one purpose for a user.
func (s *PostgresStore) DeleteUserTokens(ctx context.Context, userID int64, purpose TokenPurpose) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tokens WHERE user_id = $1 AND purpose = $2`, userID, string(purpose))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredTokens removes tokens with expires_at before now.
func (s *PostgresStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Sessions ---

// CreateSession inserts a session row.
func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, csrf_token, expires_at, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.CSRFToken, sess.ExpiresAt, sess.IPAddress, sess.UserAgent)
	if err != nil {
		return fmt.Errorf("inserting session: %w", pgErr(err))
	}
	return nil
}

// GetSessionByTokenHash fetches a non-expired session. Returns ErrNotFound otherwise.
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, csrf_token, expires_at, host(ip_address), user_agent, created_at
		 FROM sessions WHERE token_hash = $1 AND expires_at > now()`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CSRFToken, &sess.ExpiresAt,
		&sess.IPAddress, &sess.UserAgent, &sess.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}
	return &sess, nil
}

// ExtendSession slides a session's expiry forward.
func (s *PostgresStore) ExtendSession(ctx context.Context, tokenHash []byte, expiresAt time.Time) error {
	return s.execOne(ctx, `UPDATE sessions SET expires_at = $2 WHERE token_hash = $1`, tokenHash, expiresAt)
}

// DeleteSession removes a single session by token hash.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteAllUserSessions removes every session for a user.
func (s *PostgresStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpiredSessions removes sessions that expired before cutoff.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
