// password_handler.go -- Forgot, confirm, and change password endpoints.
package auth

import (
	"net/http"

	"github.com/MGallo-Code/gatehouse/internal/credential"
)

// forgotPasswordMessage is sent whether or not the account exists.
const forgotPasswordMessage = "if an account exists for that email, a reset link has been sent"

// ForgotPassword handles POST /password/forgot -- mails a reset link to local accounts.
// Keyed on the email before lookup so the limiter reveals nothing about existence.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.allow(r, "forgot:email:"+credential.NormalizeEmail(in.Email), h.Rates.Forgot); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.Svc.ForgotPassword(r.Context(), in.Email); err != nil {
		WriteError(w, r, err)
		return
	}
	OK(w, forgotPasswordMessage)
}

// ConfirmPassword handles POST /password/confirm -- redeems a reset token and
// sets the new password. All of the user's sessions end.
func (h *Handler) ConfirmPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.Svc.ConfirmPasswordReset(r.Context(), in.Token, in.NewPassword); err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "password reset confirmed")
	OK(w, "password updated")
}

// ChangePassword handles POST /password/reset -- the signed-in local user
// replaces their password. Requires the current one; ends every session.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}

	rc := FromContext(r.Context())
	if err := h.Svc.ChangePassword(r.Context(), rc.User, in.CurrentPassword, in.NewPassword); err != nil {
		WriteError(w, r, err)
		return
	}
	h.Cookies.ClearSession(w)
	logInfo(r, "password changed", "user_id", rc.User.ID)
	OK(w, "password updated")
}
