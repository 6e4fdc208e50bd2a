// handler.go -- HTTP handlers for signup, login, logout, and the session endpoint.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow records an attempt; returns store.ErrRateLimitExceeded when locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// HealthChecker is a dependency GET /health pings.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// RatePolicies holds the limits for the anonymous entry points.
type RatePolicies struct {
	Login  store.RateLimit // keyed by email
	Signup store.RateLimit // keyed by client IP
	Forgot store.RateLimit // keyed by email
}

// Handler holds dependencies for every HTTP handler and the session middleware.
type Handler struct {
	Svc       *Service
	Sessions  *SessionManager
	Limiter   RateLimiter
	Providers oauth.Registry
	Cookies   Cookies
	Rates     RatePolicies

	DB    HealthChecker
	Cache HealthChecker
}

var errTooManyAttempts = apperror.RateLimited("too many attempts, try again later")

// decode reads a JSON body into v. Failures are 400s with no field.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		return apperror.Validation("", "error decoding request body")
	}
	return nil
}

// allow applies policy to key. A limiter outage is logged and the request proceeds.
func (h *Handler) allow(r *http.Request, key string, policy store.RateLimit) error {
	err := h.Limiter.Allow(r.Context(), key, policy)
	if errors.Is(err, store.ErrRateLimitExceeded) {
		logWarn(r, "rate limit exceeded", "key", key)
		return errTooManyAttempts
	}
	if err != nil {
		logError(r, "rate limiter unavailable", "error", err)
	}
	return nil
}

// clientIP strips the port RemoteAddr carries unless RealIP already replaced it.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// startSession creates a session for u, sets both cookies, and writes the session response.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, status int, u *store.User) {
	ip := clientIP(r)
	ua := r.UserAgent()
	sess, err := h.Sessions.Create(r.Context(), u.ID, &ip, &ua)
	if err != nil {
		WriteError(w, r, apperror.Transient(err))
		return
	}
	h.Cookies.SetSession(w, sess.RawToken, sess.CSRFToken, sess.ExpiresAt)
	writeSession(w, status, u, sess.CSRFToken)
}

// Signup handles POST /signup -- creates a LOCAL user, mails a verification
// link, and signs the new user in. Returns 201 with the session response.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.allow(r, "signup:ip:"+clientIP(r), h.Rates.Signup); err != nil {
		WriteError(w, r, err)
		return
	}

	u, err := h.Svc.Signup(r.Context(), in.Name, in.Email, in.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "user signed up", "user_id", u.ID)
	h.startSession(w, r, http.StatusCreated, u)
}

// Login handles POST /login -- email + password authentication.
// Every credential failure is the same 401.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.allow(r, "login:email:"+credential.NormalizeEmail(in.Email), h.Rates.Login); err != nil {
		WriteError(w, r, err)
		return
	}

	u, err := h.Svc.Authenticate(r.Context(), LocalCredential{Email: in.Email, Password: in.Password})
	if err != nil {
		if apperror.IsKind(err, apperror.KindAuthentication) {
			logInfo(r, "login failed")
		}
		WriteError(w, r, err)
		return
	}
	logInfo(r, "user logged in", "user_id", u.ID)
	h.startSession(w, r, http.StatusOK, u)
}

// Logout handles POST /logout -- ends the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	if err := h.Sessions.Destroy(r.Context(), rc.Session.TokenHash, rc.User.ID); err != nil {
		WriteError(w, r, apperror.Transient(err))
		return
	}
	h.Cookies.ClearSession(w)
	logInfo(r, "user logged out", "user_id", rc.User.ID)
	OK(w, "logged out")
}

// LogoutAll handles POST /logout-all -- ends every session the user holds.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	if err := h.Sessions.DestroyAll(r.Context(), rc.User.ID); err != nil {
		WriteError(w, r, apperror.Transient(err))
		return
	}
	h.Cookies.ClearSession(w)
	logInfo(r, "user logged out of all devices", "user_id", rc.User.ID)
	OK(w, "logged out of all devices")
}

// Session handles GET /session -- returns the current user and CSRF token.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	writeSession(w, http.StatusOK, rc.User, rc.Session.CSRFToken)
}
