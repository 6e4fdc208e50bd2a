package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if !bytes.Equal(hash[:], HashSessionToken(token[:])) {
		t.Error("hash does not match HashSessionToken of token")
	}
	other, _, _ := GenerateToken()
	if *other == *token {
		t.Error("two tokens should differ")
	}
}

func TestCookieNames(t *testing.T) {
	secure := Cookies{Secure: true}
	plain := Cookies{}
	tests := []struct{ got, want string }{
		{secure.SessionName(), "__Host-session"},
		{secure.CSRFName(), "__Host-csrf"},
		{secure.OAuthStateName(), "__Host-oauth-state"},
		{plain.SessionName(), "session"},
		{plain.CSRFName(), "csrf"},
		{plain.OAuthStateName(), "oauth-state"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.got)
		}
	}
}

func TestRefreshSession(t *testing.T) {
	c := Cookies{Secure: true}

	t.Run("re-sends the existing token with the new lifetime", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "__Host-session", Value: "abc"})
		w := httptest.NewRecorder()
		c.RefreshSession(w, r, []byte{1, 2, 3}, time.Now().Add(time.Hour))

		sc := findCookie(w, "__Host-session")
		if sc == nil || sc.Value != "abc" {
			t.Fatalf("expected session cookie to keep its value, got %+v", sc)
		}
		if sc.MaxAge < 3500 || sc.MaxAge > 3600 {
			t.Errorf("MaxAge: expected about an hour, got %d", sc.MaxAge)
		}
		if findCookie(w, "__Host-csrf") == nil {
			t.Error("csrf cookie should be refreshed alongside")
		}
	})

	t.Run("no cookie, no refresh", func(t *testing.T) {
		w := httptest.NewRecorder()
		c.RefreshSession(w, httptest.NewRequest(http.MethodGet, "/", nil), nil, time.Now().Add(time.Hour))
		if len(w.Result().Cookies()) != 0 {
			t.Error("expected no cookies")
		}
	})
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	Cookies{}.ClearSession(w)
	for _, name := range []string{"session", "csrf"} {
		c := findCookie(w, name)
		if c == nil || c.MaxAge != -1 || c.Value != "" {
			t.Errorf("%s not cleared: %+v", name, c)
		}
		if c != nil && c.Secure {
			t.Errorf("%s: insecure cookies must not set Secure", name)
		}
	}
}
