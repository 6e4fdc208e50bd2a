// session.go

// Session token generation and cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// Cookies names and writes the session, CSRF, and OAuth state cookies.
// Secure cookies use the __Host- prefix, which browsers only accept over HTTPS
// with Path=/ and no Domain.
type Cookies struct {
	Secure bool
}

func (c Cookies) name(base string) string {
	if c.Secure {
		return "__Host-" + base
	}
	return base
}

// SessionName is the session cookie name.
func (c Cookies) SessionName() string { return c.name("session") }

// CSRFName is the readable CSRF cookie name.
func (c Cookies) CSRFName() string { return c.name("csrf") }

// OAuthStateName is the OAuth round-trip cookie name.
func (c Cookies) OAuthStateName() string { return c.name("oauth-state") }

// GenerateToken returns a 256-bit random session token and its SHA-256 hash.
// Token goes in the cookie; hash goes in storage.
func GenerateToken() (*[32]byte, *[32]byte, error) {
	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return nil, nil, fmt.Errorf("generating token with rand: %w", err)
	}
	hash := sha256.Sum256(token[:])
	return &token, &hash, nil
}

func maxAge(expiresAt time.Time) int {
	return max(1, int(time.Until(expiresAt).Seconds()))
}

// SetSession writes the HttpOnly, SameSite=Strict session cookie and the
// script-readable CSRF cookie with the same lifetime.
func (c Cookies) SetSession(w http.ResponseWriter, rawToken [32]byte, csrfToken []byte, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.SessionName(),
		Value:    base64.RawURLEncoding.EncodeToString(rawToken[:]),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge(expiresAt),
	})
	c.setCSRF(w, csrfToken, maxAge(expiresAt))
}

// RefreshSession re-sends the session cookie with a new lifetime after a slide.
func (c Cookies) RefreshSession(w http.ResponseWriter, r *http.Request, csrfToken []byte, expiresAt time.Time) {
	cookie, err := r.Cookie(c.SessionName())
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.SessionName(),
		Value:    cookie.Value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge(expiresAt),
	})
	c.setCSRF(w, csrfToken, maxAge(expiresAt))
}

func (c Cookies) setCSRF(w http.ResponseWriter, csrfToken []byte, age int) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CSRFName(),
		Value:    base64.RawURLEncoding.EncodeToString(csrfToken),
		Path:     "/",
		HttpOnly: false,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   age,
	})
}

// ClearSession expires both session cookies.
func (c Cookies) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{c.SessionName(), c.CSRFName()} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name == c.SessionName(),
			Secure:   c.Secure,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   -1,
		})
	}
}

// SetOAuthState stores the encoded state payload for ten minutes.
// Lax, not Strict: the provider's redirect back is a cross-site navigation.
func (c Cookies) SetOAuthState(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.OAuthStateName(),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
}

// ClearOAuthState expires the OAuth state cookie.
func (c Cookies) ClearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.OAuthStateName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
