// oauth_handler.go -- Generic OAuth2 redirect and callback handlers.
// Provider-specific logic lives in internal/oauth; providers are looked up by
// the {provider} URL segment in Handler.Providers.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/go-chi/chi/v5"
)

// oauthState is the payload stored in the OAuth state cookie during the round-trip.
type oauthState struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

var (
	errInvalidOAuthState = apperror.Authentication("invalid oauth state")
	errOAuthFailed       = apperror.Authentication("oauth authentication failed")
)

// OAuthRedirect handles GET /oauth/{provider} -- generates state and a PKCE
// verifier, stores both in a short-lived HttpOnly cookie, and redirects the
// browser to the provider's consent page.
func (h *Handler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	var stateBytes [32]byte
	if _, err := rand.Read(stateBytes[:]); err != nil {
		WriteError(w, r, apperror.Transient(err))
		return
	}
	st := oauthState{
		State:    base64.RawURLEncoding.EncodeToString(stateBytes[:]),
		Verifier: oauth.NewVerifier(),
	}
	payload, err := json.Marshal(st)
	if err != nil {
		WriteError(w, r, apperror.Transient(err))
		return
	}

	h.Cookies.SetOAuthState(w, base64.RawURLEncoding.EncodeToString(payload))
	http.Redirect(w, r, provider.AuthCodeURL(st.State, st.Verifier), http.StatusFound)
}

// OAuthCallback handles GET /oauth/{provider}/callback -- checks state,
// exchanges the code for verified claims, then finds or creates the user and
// starts a session.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	// Read and immediately clear the state cookie to prevent replay.
	cookie, err := r.Cookie(h.Cookies.OAuthStateName())
	if err != nil {
		logWarn(r, "oauth callback: missing state cookie")
		WriteError(w, r, apperror.Validation("", "missing oauth state"))
		return
	}
	h.Cookies.ClearOAuthState(w)

	var st oauthState
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err == nil {
		err = json.Unmarshal(raw, &st)
	}
	if err != nil || st.State == "" {
		logWarn(r, "oauth callback: malformed state cookie", "error", err)
		WriteError(w, r, apperror.Validation("", "invalid oauth state"))
		return
	}

	q := r.URL.Query()
	if subtle.ConstantTimeCompare([]byte(st.State), []byte(q.Get("state"))) != 1 {
		logWarn(r, "oauth callback: state mismatch")
		WriteError(w, r, errInvalidOAuthState)
		return
	}
	if e := q.Get("error"); e != "" {
		logInfo(r, "oauth callback: provider returned error", "provider", provider.Name(), "oauth_error", e)
		WriteError(w, r, errOAuthFailed)
		return
	}

	claims, err := provider.Exchange(r.Context(), q.Get("code"), st.Verifier)
	if err != nil {
		logWarn(r, "oauth callback: exchange failed", "provider", provider.Name(), "error", err)
		WriteError(w, r, errOAuthFailed)
		return
	}

	u, err := h.Svc.Authenticate(r.Context(), OAuthCredential{Provider: provider.Strategy(), Claims: claims})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "user logged in via oauth", "user_id", u.ID, "provider", provider.Name())
	h.startSession(w, r, http.StatusOK, u)
}

// oauthProvider resolves {provider}; unknown names are 404.
func (h *Handler) oauthProvider(w http.ResponseWriter, r *http.Request) (oauth.Provider, bool) {
	p, ok := h.Providers.Get(chi.URLParam(r, "provider"))
	if !ok {
		WriteError(w, r, apperror.NotFound("unknown oauth provider"))
		return nil, false
	}
	return p, true
}
