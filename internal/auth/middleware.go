// middleware.go

// Session loading middleware.
package auth

import (
	"encoding/base64"
	"net/http"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
)

// LoadSession resolves the session cookie and stores the request's
// RequestContext. A missing, malformed, or expired cookie yields an anonymous
// context, never an error; only store failures abort the request.
// Sessions whose user no longer exists are destroyed here.
func (h *Handler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := h.resolveRequest(w, r)
		if err != nil {
			WriteError(w, r, apperror.Transient(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
	})
}

func (h *Handler) resolveRequest(w http.ResponseWriter, r *http.Request) (RequestContext, error) {
	anonymous := RequestContext{State: StateAnonymous}

	cookie, err := r.Cookie(h.Cookies.SessionName())
	if err != nil || cookie.Value == "" {
		return anonymous, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil || len(raw) != 32 {
		logDebug(r, "ignoring malformed session cookie")
		return anonymous, nil
	}

	sess, err := h.Sessions.Resolve(r.Context(), HashSessionToken(raw))
	if err != nil {
		return anonymous, err
	}
	if sess == nil {
		logDebug(r, "session not found or expired")
		h.Cookies.ClearSession(w)
		return anonymous, nil
	}

	u, err := h.Svc.Lookup(r.Context(), sess.UserID)
	if err != nil {
		return anonymous, err
	}
	if u == nil {
		logWarn(r, "session user no longer exists, dropping session", "user_id", sess.UserID)
		if err := h.Sessions.Destroy(r.Context(), sess.TokenHash, sess.UserID); err != nil {
			logWarn(r, "failed to drop orphaned session", "error", err)
		}
		h.Cookies.ClearSession(w)
		return anonymous, nil
	}

	expiresAt, moved, err := h.Sessions.Slide(r.Context(), sess)
	if err != nil {
		logWarn(r, "failed to slide session expiry", "user_id", u.ID, "error", err)
	} else if moved {
		h.Cookies.RefreshSession(w, r, sess.CSRFToken, expiresAt)
	}

	return RequestContext{
		State: stateFor(u),
		User:  u,
		Session: &SessionInfo{
			TokenHash: sess.TokenHash,
			CSRFToken: sess.CSRFToken,
			ExpiresAt: sess.ExpiresAt,
		},
	}, nil
}
