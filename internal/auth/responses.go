// responses.go -- Package-wide HTTP response helpers.
//
// Every error leaves through WriteError, which maps apperror kinds to status
// codes. Unclassified errors are logged and reduced to a generic 500.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

// retryAfterSeconds is sent with every 503.
const retryAfterSeconds = "30"

type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and a client-safe body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	e := apperror.As(err)

	if e == nil || e.Kind == apperror.KindTransient || e.Kind == apperror.KindInternal {
		logError(r, "request failed", "status", status, "error", err)
	}
	if e == nil || e.Kind == apperror.KindInternal {
		WriteJSON(w, status, errorBody{Message: "internal server error"})
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	WriteJSON(w, status, errorBody{Message: e.Message, Field: e.Field})
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusOK, errorBody{Message: message})
}

// userView is the public JSON shape of a user. Hashes and external ids never leave the service.
type userView struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	Email         string             `json:"email"`
	AuthStrategy  store.AuthStrategy `json:"auth_strategy"`
	EmailVerified bool               `json:"email_verified"`
	CreatedAt     time.Time          `json:"created_at"`
	LastActiveAt  *time.Time         `json:"last_active_at"`
	LoginCount    int64              `json:"login_count"`
}

func viewOf(u *store.User) userView {
	return userView{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		AuthStrategy:  u.AuthStrategy,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastActiveAt:  u.LastActiveAt,
		LoginCount:    u.LoginCount,
	}
}

// sessionResponse is the single contract for every response that establishes or reads a session.
type sessionResponse struct {
	User      userView `json:"user"`
	CSRFToken string   `json:"csrf_token"`
}

func writeSession(w http.ResponseWriter, status int, u *store.User, csrfToken []byte) {
	WriteJSON(w, status, sessionResponse{
		User:      viewOf(u),
		CSRFToken: base64.RawURLEncoding.EncodeToString(csrfToken),
	})
}
