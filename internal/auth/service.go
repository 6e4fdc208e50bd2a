// service.go -- Account flows behind the HTTP handlers.
//
// Service owns the business rules of every transition in the auth state
// machine. It never touches HTTP; every error it returns is an
// *apperror.Error so handlers can pass it straight to WriteError.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/mail"
	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/MGallo-Code/gatehouse/internal/tokens"
)

// Users is the credential store. Satisfied by *credential.Store.
type Users interface {
	CreateUser(ctx context.Context, name, email string, secret credential.Secret) (*store.User, error)
	FindByEmail(ctx context.Context, email string) (*store.User, error)
	FindByID(ctx context.Context, id int64) (*store.User, error)
	FindByExternalIdentity(ctx context.Context, strategy store.AuthStrategy, externalID string) (*store.User, error)
	VerifyPassword(u *store.User, plaintext string) (bool, error)
	BurnHash(plaintext string)
	RecordActivity(ctx context.Context, userID int64, isLogin bool) error
	UpdatePassword(ctx context.Context, userID int64, plaintext string) error
	UpdateName(ctx context.Context, userID int64, name string) error
	MarkEmailVerified(ctx context.Context, userID int64) error
}

// Tokens issues and redeems single-use tokens. Satisfied by *tokens.Manager.
type Tokens interface {
	Reissue(ctx context.Context, userID int64, purpose store.TokenPurpose, ttl time.Duration) (*tokens.Token, error)
	Redeem(ctx context.Context, value string, purpose store.TokenPurpose) (userID int64, ok bool, err error)
	DeleteAllForPurpose(ctx context.Context, userID int64, purpose store.TokenPurpose) error
}

// Directory serves read-only aggregate queries. Satisfied by the SQL stores.
type Directory interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	GetStatistics(ctx context.Context, activeSince time.Time) (*store.Statistics, error)
}

// SessionRevoker ends every session a user holds. Satisfied by *SessionManager.
type SessionRevoker interface {
	DestroyAll(ctx context.Context, userID int64) error
}

// TokenTTLs sets how long mailed links stay valid.
type TokenTTLs struct {
	Verify time.Duration
	Reset  time.Duration
}

// activeWindow is the look-back for the statistics active-user count.
const activeWindow = 24 * time.Hour

var (
	errInvalidCredentials = apperror.Authentication("invalid credentials")
	errAccountExists      = apperror.Conflict("an account with this email already exists")
	errVerifyToken        = apperror.NotFound("invalid or expired verification token")
	errResetToken         = apperror.NotFound("invalid or expired reset token")
)

// Service implements signup, login, verification, password, and profile flows.
type Service struct {
	users    Users
	tokens   Tokens
	mailer   mail.Mailer
	sessions SessionRevoker
	dir      Directory
	ttls     TokenTTLs
	now      func() time.Time
	log      *slog.Logger
}

// NewService wires the flows to their dependencies.
func NewService(users Users, toks Tokens, mailer mail.Mailer, sessions SessionRevoker, dir Directory, ttls TokenTTLs) *Service {
	return &Service{
		users:    users,
		tokens:   toks,
		mailer:   mailer,
		sessions: sessions,
		dir:      dir,
		ttls:     ttls,
		now:      time.Now,
		log:      slog.Default().With("component", "auth"),
	}
}

func validation(field, msg string) error {
	if msg == "" {
		return nil
	}
	return apperror.Validation(field, msg)
}

// Signup creates a LOCAL user and mails a verification link.
// If the link cannot be issued or sent the account still exists and the
// error is retryable; the caller must not establish a session.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*store.User, error) {
	if err := validation("name", ValidateName(name)); err != nil {
		return nil, err
	}
	if err := validation("email", ValidateEmail(email)); err != nil {
		return nil, err
	}
	if err := validation("password", ValidatePassword(password)); err != nil {
		return nil, err
	}

	u, err := s.users.CreateUser(ctx, name, email, credential.Password(password))
	if errors.Is(err, credential.ErrDuplicateIdentity) {
		return nil, errAccountExists
	}
	if err != nil {
		return nil, apperror.Transient(err)
	}

	if err := s.sendVerification(ctx, u); err != nil {
		return nil, err
	}
	return s.recordLogin(ctx, u.ID)
}

// Authenticate proves identity with either credential variant and records the login.
func (s *Service) Authenticate(ctx context.Context, cred Credential) (*store.User, error) {
	var (
		u   *store.User
		err error
	)
	switch c := cred.(type) {
	case LocalCredential:
		u, err = s.authenticateLocal(ctx, c)
	case OAuthCredential:
		u, err = s.authenticateOAuth(ctx, c)
	default:
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	return s.recordLogin(ctx, u.ID)
}

// authenticateLocal returns the same error for unknown, OAuth-only, and
// wrong-password accounts, and burns a hash on the first two.
func (s *Service) authenticateLocal(ctx context.Context, c LocalCredential) (*store.User, error) {
	if ValidateEmail(c.Email) != "" || c.Password == "" {
		s.users.BurnHash(c.Password)
		return nil, errInvalidCredentials
	}

	u, err := s.users.FindByEmail(ctx, c.Email)
	if errors.Is(err, credential.ErrNotFound) {
		s.users.BurnHash(c.Password)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, apperror.Transient(err)
	}
	if u.AuthStrategy != store.StrategyLocal {
		s.users.BurnHash(c.Password)
		return nil, errInvalidCredentials
	}

	ok, err := s.users.VerifyPassword(u, c.Password)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	if !ok {
		return nil, errInvalidCredentials
	}
	return u, nil
}

func (s *Service) authenticateOAuth(ctx context.Context, c OAuthCredential) (*store.User, error) {
	if c.Claims == nil || c.Claims.Sub == "" {
		return nil, apperror.Authentication("oauth authentication failed")
	}

	u, err := s.users.FindByExternalIdentity(ctx, c.Provider, c.Claims.Sub)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, credential.ErrNotFound) {
		return nil, apperror.Transient(err)
	}

	if c.Claims.Email == "" {
		return nil, apperror.Validation("email", "oauth provider did not return an email")
	}
	if !c.Claims.EmailVerified {
		return nil, apperror.Authentication("oauth account email is not verified")
	}

	// Existing accounts are never linked implicitly, whatever their strategy.
	_, err = s.users.FindByEmail(ctx, c.Claims.Email)
	if err == nil {
		return nil, errAccountExists
	}
	if !errors.Is(err, credential.ErrNotFound) {
		return nil, apperror.Transient(err)
	}

	u, err = s.users.CreateUser(ctx, c.Claims.DisplayName(), c.Claims.Email,
		credential.External{Strategy: c.Provider, ID: c.Claims.Sub})
	if errors.Is(err, credential.ErrDuplicateIdentity) {
		return nil, errAccountExists
	}
	if err != nil {
		return nil, apperror.Transient(err)
	}
	s.log.Info("oauth user created", "user_id", u.ID, "strategy", c.Provider)
	return u, nil
}

func (s *Service) recordLogin(ctx context.Context, userID int64) (*store.User, error) {
	if err := s.users.RecordActivity(ctx, userID, true); err != nil {
		return nil, apperror.Transient(err)
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	return u, nil
}

// sendVerification replaces any outstanding verification token and mails the new one.
func (s *Service) sendVerification(ctx context.Context, u *store.User) error {
	tok, err := s.tokens.Reissue(ctx, u.ID, store.PurposeVerifyEmail, s.ttls.Verify)
	if err != nil {
		return apperror.Retryable("verification email could not be sent, try again later", err)
	}
	vars := map[string]string{"name": u.Name}
	if err := s.mailer.SendEmailVerification(ctx, u.Email, tok.Value, s.ttls.Verify, vars); err != nil {
		return apperror.Retryable("verification email could not be sent, try again later", err)
	}
	return nil
}

// Lookup returns the user with id, or nil when it no longer exists.
func (s *Service) Lookup(ctx context.Context, id int64) (*store.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyEmail redeems a VERIFY_EMAIL token. A second redemption finds no token.
func (s *Service) VerifyEmail(ctx context.Context, value string) error {
	userID, ok, err := s.tokens.Redeem(ctx, value, store.PurposeVerifyEmail)
	if err != nil {
		return apperror.Transient(err)
	}
	if !ok {
		return errVerifyToken
	}

	err = s.users.MarkEmailVerified(ctx, userID)
	if errors.Is(err, credential.ErrNotFound) {
		return errVerifyToken
	}
	if err != nil {
		return apperror.Transient(err)
	}
	return nil
}

// ResendVerification mails u a fresh verification link, invalidating older ones.
func (s *Service) ResendVerification(ctx context.Context, u *store.User) error {
	return s.sendVerification(ctx, u)
}

// ForgotPassword mails a reset link to LOCAL accounts. Unknown and OAuth
// emails succeed silently so the response never reveals which accounts exist.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if err := validation("email", ValidateEmail(email)); err != nil {
		return err
	}

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, credential.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Transient(err)
	}
	if u.AuthStrategy != store.StrategyLocal {
		s.log.Info("password reset requested for oauth account", "user_id", u.ID)
		return nil
	}

	tok, err := s.tokens.Reissue(ctx, u.ID, store.PurposeResetPassword, s.ttls.Reset)
	if err != nil {
		return apperror.Retryable("reset email could not be sent, try again later", err)
	}
	vars := map[string]string{"name": u.Name}
	if err := s.mailer.SendPasswordReset(ctx, u.Email, tok.Value, s.ttls.Reset, vars); err != nil {
		return apperror.Retryable("reset email could not be sent, try again later", err)
	}
	return nil
}

// ConfirmPasswordReset redeems a RESET_PASSWORD token, sets the new password,
// and signs the user out everywhere.
func (s *Service) ConfirmPasswordReset(ctx context.Context, value, newPassword string) error {
	if err := validation("new_password", ValidatePassword(newPassword)); err != nil {
		return err
	}

	// Redeem before mutating so concurrent confirms of one link cannot both win.
	userID, ok, err := s.tokens.Redeem(ctx, value, store.PurposeResetPassword)
	if err != nil {
		return apperror.Transient(err)
	}
	if !ok {
		return errResetToken
	}

	err = s.users.UpdatePassword(ctx, userID, newPassword)
	if errors.Is(err, credential.ErrNotFound) {
		return errResetToken
	}
	if err != nil {
		return apperror.Transient(err)
	}
	if err := s.tokens.DeleteAllForPurpose(ctx, userID, store.PurposeResetPassword); err != nil {
		s.log.Warn("failed to delete remaining reset tokens", "user_id", userID, "error", err)
	}
	if err := s.sessions.DestroyAll(ctx, userID); err != nil {
		return apperror.Transient(err)
	}
	// The link reached the mailbox, so the address is proven.
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		s.log.Warn("failed to mark email verified after reset", "user_id", userID, "error", err)
	}
	return nil
}

// ChangePassword replaces u's password after checking the current one, then
// ends all of u's sessions.
func (s *Service) ChangePassword(ctx context.Context, u *store.User, current, next string) error {
	if current == "" {
		return apperror.Validation("current_password", "current_password required")
	}
	if err := validation("new_password", ValidatePassword(next)); err != nil {
		return err
	}

	ok, err := s.users.VerifyPassword(u, current)
	if errors.Is(err, credential.ErrNoPasswordSet) {
		return apperror.Authorization("operation requires a local account")
	}
	if err != nil {
		return apperror.Transient(err)
	}
	if !ok {
		return errInvalidCredentials
	}

	if err := s.users.UpdatePassword(ctx, u.ID, next); err != nil {
		return apperror.Transient(err)
	}
	if err := s.sessions.DestroyAll(ctx, u.ID); err != nil {
		return apperror.Transient(err)
	}
	return nil
}

// Profile records a non-login activity and returns the fresh record.
func (s *Service) Profile(ctx context.Context, u *store.User) (*store.User, error) {
	if err := s.users.RecordActivity(ctx, u.ID, false); err != nil {
		return nil, apperror.Transient(err)
	}
	fresh, err := s.users.FindByID(ctx, u.ID)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	return fresh, nil
}

// UpdateName changes u's display name.
func (s *Service) UpdateName(ctx context.Context, u *store.User, name string) (*store.User, error) {
	if err := validation("name", ValidateName(name)); err != nil {
		return nil, err
	}
	if err := s.users.UpdateName(ctx, u.ID, name); err != nil {
		return nil, apperror.Transient(err)
	}
	fresh, err := s.users.FindByID(ctx, u.ID)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	return fresh, nil
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	users, err := s.dir.ListUsers(ctx)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	return users, nil
}

// Statistics returns aggregate counts, with activity measured over the last 24h.
func (s *Service) Statistics(ctx context.Context) (*store.Statistics, error) {
	stats, err := s.dir.GetStatistics(ctx, s.now().Add(-activeWindow))
	if err != nil {
		return nil, apperror.Transient(err)
	}
	return stats, nil
}
