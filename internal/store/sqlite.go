// sqlite.go -- database/sql store backed by modernc.org/sqlite (pure Go, no CGo).
// Used for local development and tests; mirrors PostgresStore method for method.
// Timestamps are stored as unix milliseconds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is the durable store backed by a single SQLite connection.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and enables foreign keys.
// path may be ":memory:" for an ephemeral database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection: serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already-open *sql.DB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckHealth pings the database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// sqliteErr maps driver errors onto the store sentinels.
func sqliteErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrDuplicate, se.Error())
		}
	}
	return err
}

// --- Users ---

const sqliteUserColumns = `id, external_id, email, password_hash, name, auth_strategy,
	is_email_verified, created_at, last_active_at, login_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*User, error) {
	var u User
	var strategy string
	var createdAt int64
	var lastActive sql.NullInt64
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.PasswordHash, &u.Name, &strategy,
		&u.EmailVerified, &createdAt, &lastActive, &u.LoginCount)
	if err != nil {
		return nil, sqliteErr(err)
	}
	u.AuthStrategy = AuthStrategy(strategy)
	u.CreatedAt = fromMillis(createdAt)
	if lastActive.Valid {
		t := fromMillis(lastActive.Int64)
		u.LastActiveAt = &t
	}
	return &u, nil
}

// CreateUser inserts a user and returns the stored row.
// Returns ErrDuplicate when the email or (strategy, external_id) is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, auth_strategy, password_hash, external_id, is_email_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+sqliteUserColumns,
		nu.Email, nu.Name, string(nu.AuthStrategy), nu.PasswordHash, nu.ExternalID, nu.EmailVerified,
		toMillis(s.now())))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetUserByID fetches a user by primary key.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches a user by (lower-cased) email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByExternalID fetches a user by provider identity.
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, strategy AuthStrategy, externalID string) (*User, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE auth_strategy = ? AND external_id = ?`,
		string(strategy), externalID))
}

// ListUsers returns every user ordered by id.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return sqliteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword overwrites password_hash only.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return s.execOne(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
}

// UpdateUserName overwrites the display name.
func (s *SQLiteStore) UpdateUserName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, `UPDATE users SET name = ? WHERE id = ?`, name, id)
}

// SetEmailVerified marks the user's email as verified. Idempotent.
func (s *SQLiteStore) SetEmailVerified(ctx context.Context, id int64) error {
	return s.execOne(ctx, `UPDATE users SET is_email_verified = 1 WHERE id = ?`, id)
}

// RecordActivity sets last_active_at and, for logins, increments login_count.
// The single connection serializes the read and write inside the transaction.
func (s *SQLiteStore) RecordActivity(ctx context.Context, id int64, at time.Time, isLogin bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning activity tx: %w", err)
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT login_count FROM users WHERE id = ?`, id,
	).Scan(&count); err != nil {
		return sqliteErr(err)
	}
	if isLogin {
		count++
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_active_at = ?, login_count = ? WHERE id = ?`,
		toMillis(at), count, id); err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	return tx.Commit()
}

// GetStatistics aggregates user counts; activeSince bounds the "active" window.
func (s *SQLiteStore) GetStatistics(ctx context.Context, activeSince time.Time) (*Statistics, error) {
	st := Statistics{UsersByStrategy: map[AuthStrategy]int64{StrategyLocal: 0, StrategyGoogle: 0}}
	var local, google int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(is_email_verified), 0),
		        COALESCE(SUM(auth_strategy = 'LOCAL'), 0),
		        COALESCE(SUM(auth_strategy = 'GOOGLE_OAUTH'), 0),
		        COALESCE(SUM(login_count), 0),
		        COALESCE(SUM(last_active_at >= ?), 0)
		 FROM users`, toMillis(activeSince),
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
func (s *SQLiteStore) CreateToken(ctx context.Context, t Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (token_hash, purpose, user_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		t.TokenHash, string(t.Purpose), t.UserID, toMillis(t.CreatedAt), toMillis(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("inserting token: %w", sqliteErr(err))
	}
	return nil
}

// GetTokenByHash fetches a token regardless of expiry; callers check validity.
func (s *SQLiteStore) GetTokenByHash(ctx context.Context, tokenHash []byte) (*Token, error) {
	var t Token
	var purpose string
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, purpose, user_id, created_at, expires_at FROM tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&t.TokenHash, &purpose, &t.UserID, &createdAt, &expiresAt)
	if err != nil {
		return nil, sqliteErr(err)
	}
	t.Purpose = TokenPurpose(purpose)
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	return &t, nil
}

// DeleteToken removes a token. Deleting a missing token is not an error.
func (s *SQLiteStore) DeleteToken(ctx context.Context, tokenHash []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token_hash = ?`, tokenHash)
	return err
}

// ConsumeToken deletes a live token of the given purpose and returns its owner.
// Returns ErrNotFound if the token is missing, expired, or of another purpose.
func (s *SQLiteStore) ConsumeToken(ctx context.Context, tokenHash []byte, purpose TokenPurpose, now time.Time) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tokens WHERE token_hash = ? AND purpose = ? AND expires_at > ? RETURNING user_id`,
		tokenHash, string(purpose), toMillis(now),
	).Scan(&userID)
	if err != nil {
		return 0, sqliteErr(err)
	}
	return userID, nil
}

// DeleteUserTokens removes every token of one purpose for a user.
func (s *SQLiteStore) DeleteUserTokens(ctx context.Context, userID int64, purpose TokenPurpose) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = ? AND purpose = ?`, userID, string(purpose))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredTokens removes tokens with expires_at before now.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Sessions ---

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, csrf_token, expires_at, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.UserID, sess.TokenHash, sess.CSRFToken, toMillis(sess.ExpiresAt),
		sess.IPAddress, sess.UserAgent, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("inserting session: %w", sqliteErr(err))
	}
	return nil
}

// GetSessionByTokenHash fetches a non-expired session. Returns ErrNotFound otherwise.
func (s *SQLiteStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	var id string
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, csrf_token, expires_at, ip_address, user_agent, created_at
		 FROM sessions WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, toMillis(s.now()),
	).Scan(&id, &sess.UserID, &sess.TokenHash, &sess.CSRFToken, &expiresAt,
		&sess.IPAddress, &sess.UserAgent, &createdAt)
	if err != nil {
		return nil, sqliteErr(err)
	}
	sess.ID, err = uuid.FromString(id)
	if err != nil {
		return nil, fmt.Errorf("parsing session id: %w", err)
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	sess.CreatedAt = fromMillis(createdAt)
	return &sess, nil
}

// ExtendSession slides a session's expiry forward.
func (s *SQLiteStore) ExtendSession(ctx context.Context, tokenHash []byte, expiresAt time.Time) error {
	return s.execOne(ctx, `UPDATE sessions SET expires_at = ? WHERE token_hash = ?`, toMillis(expiresAt), tokenHash)
}

// DeleteSession removes a single session by token hash.
func (s *SQLiteStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteAllUserSessions removes every session for a user.
func (s *SQLiteStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredSessions removes sessions that expired before cutoff.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
