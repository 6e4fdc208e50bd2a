// verification_handler.go -- Email verification endpoints.
package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// VerifyEmail handles POST /verify-email/{token} -- redeems a verification token.
// Works with or without a session; a spent or unknown token is 404.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.VerifyEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "email verified")
	OK(w, "email verified")
}

// ResendVerification handles POST /resend-verification -- mails a fresh link
// to the signed-in, unverified, local user. Older links stop working.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	if err := h.Svc.ResendVerification(r.Context(), rc.User); err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "verification email resent", "user_id", rc.User.ID)
	OK(w, "verification email sent")
}
