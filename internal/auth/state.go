// state.go -- Per-request authentication state and route guards.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

// State is the authentication status of one request.
type State int

const (
	StateAnonymous State = iota
	StateUnverified
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "authenticated_unverified"
	case StateVerified:
		return "authenticated_verified"
	default:
		return "anonymous"
	}
}

// SessionInfo is the part of a loaded session handlers need.
type SessionInfo struct {
	TokenHash []byte
	CSRFToken []byte
	ExpiresAt time.Time
}

// RequestContext is what LoadSession resolved for the request.
// User and Session are nil when State is StateAnonymous.
type RequestContext struct {
	State   State
	User    *store.User
	Session *SessionInfo
}

// Authenticated reports whether the request carries a live session.
func (rc RequestContext) Authenticated() bool { return rc.State != StateAnonymous }

type ctxKey struct{}

// withRequestContext stores rc on ctx.
func withRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the request's auth state. Requests LoadSession never saw are anonymous.
func FromContext(ctx context.Context) RequestContext {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	if !ok {
		return RequestContext{State: StateAnonymous}
	}
	return rc
}

// stateFor derives the authenticated state from the user record.
func stateFor(u *store.User) State {
	if u.EmailVerified {
		return StateVerified
	}
	return StateUnverified
}

// Requirement is a precondition on the request's auth state. A nil return admits the request.
type Requirement func(RequestContext) error

var errUnauthenticated = apperror.Authentication("unauthorized")

// RequireAnonymous admits only requests without a session.
func RequireAnonymous(rc RequestContext) error {
	if rc.Authenticated() {
		return apperror.Authorization("already authenticated")
	}
	return nil
}

// RequireAuthenticated admits any logged-in request, verified or not.
func RequireAuthenticated(rc RequestContext) error {
	if !rc.Authenticated() {
		return errUnauthenticated
	}
	return nil
}

// RequireVerified admits logged-in users whose email is verified.
func RequireVerified(rc RequestContext) error {
	if !rc.Authenticated() {
		return errUnauthenticated
	}
	if rc.State != StateVerified {
		return apperror.Authorization("email verification required")
	}
	return nil
}

// RequireLocal admits logged-in users with a local password.
func RequireLocal(rc RequestContext) error {
	if !rc.Authenticated() {
		return errUnauthenticated
	}
	if rc.User.AuthStrategy != store.StrategyLocal {
		return apperror.Authorization("operation requires a local account")
	}
	return nil
}

// RequireUnverified admits logged-in users whose email is not yet verified.
func RequireUnverified(rc RequestContext) error {
	if !rc.Authenticated() {
		return errUnauthenticated
	}
	if rc.State == StateVerified {
		return apperror.Authorization("email already verified")
	}
	return nil
}

// Guard rejects requests failing any requirement, checked in order, before next runs.
func Guard(reqs ...Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := FromContext(r.Context())
			for _, req := range reqs {
				if err := req(rc); err != nil {
					logInfo(r, "guard rejected request", "state", rc.State.String(), "reason", err.Error())
					WriteError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
