// profile_handler_test.go

// unit tests for profile, user directory, statistics, and health endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/MGallo-Code/gatehouse/internal/store"
)

func decodeProfile(t *testing.T, w interface{ Bytes() []byte }) userView {
	t.Helper()
	var resp profileResponse
	if err := json.Unmarshal(w.Bytes(), &resp); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	return resp.User
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	f.createLocal(t, "me@example.com", true)

	w := f.do(http.MethodPost, "/login", `{"email":"me@example.com","password":"`+testPassword+`"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	resp := decodeSession(t, w)
	sess := session{cookie: findCookie(w, "__Host-session"), csrf: resp.CSRFToken}

	for i := 0; i < 3; i++ {
		w = f.do(http.MethodGet, "/profile", "", &sess)
		if w.Code != http.StatusOK {
			t.Fatalf("profile: expected 200, got %d", w.Code)
		}
	}
	u := decodeProfile(t, w.Body)
	if u.Email != "me@example.com" || u.AuthStrategy != store.StrategyLocal || !u.EmailVerified {
		t.Errorf("unexpected profile %+v", u)
	}
	if u.LoginCount != 1 {
		t.Errorf("login_count: profile reads must not count as logins, got %d", u.LoginCount)
	}
	if u.LastActiveAt == nil {
		t.Error("last_active_at: expected profile read to record activity")
	}
	if strings.Contains(bodyString(w), "password") {
		t.Errorf("profile must not expose password material: %s", bodyString(w))
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	u := f.createLocal(t, "rename@example.com", false)
	sess := f.signIn(t, u.ID)

	t.Run("renames", func(t *testing.T) {
		w := f.do(http.MethodPatch, "/profile", `{"name":"  New Name  "}`, &sess)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", w.Code, bodyString(w))
		}
		if got := decodeProfile(t, w.Body).Name; strings.TrimSpace(got) != "New Name" {
			t.Errorf("name: got %q", got)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		assertBadRequest(t, f.do(http.MethodPatch, "/profile", `{"name":"   "}`, &sess), "name", "No name provided")
	})

	t.Run("too long", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("n", maxNameLength+1) + `"}`
		assertBadRequest(t, f.do(http.MethodPatch, "/profile", body, &sess), "name", "Name too long!")
	})

	t.Run("bad json", func(t *testing.T) {
		assertBadRequest(t, f.do(http.MethodPatch, "/profile", `{"name":`, &sess), "", "error decoding request body")
	})
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	a := f.createLocal(t, "a@example.com", true)
	f.createLocal(t, "b@example.com", false)
	f.createGoogle(t, "g@example.com", "sub-g")
	sess := f.signIn(t, a.ID)

	w := f.do(http.MethodGet, "/users", "", &sess)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Users []userView `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding users: %v", err)
	}
	if len(resp.Users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(resp.Users))
	}
	emails := map[string]bool{}
	for _, u := range resp.Users {
		emails[u.Email] = true
	}
	for _, e := range []string{"a@example.com", "b@example.com", "g@example.com"} {
		if !emails[e] {
			t.Errorf("missing %s", e)
		}
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.createLocal(t, "one@example.com", true)
	f.createLocal(t, "two@example.com", false)
	f.createGoogle(t, "g@example.com", "sub-g")

	w := f.do(http.MethodPost, "/login", `{"email":"one@example.com","password":"`+testPassword+`"}`, nil)
	resp := decodeSession(t, w)
	sess := session{cookie: findCookie(w, "__Host-session"), csrf: resp.CSRFToken}

	w = f.do(http.MethodGet, "/stats", "", &sess)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats store.Statistics
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalUsers != 3 || stats.VerifiedUsers != 2 {
		t.Errorf("totals: %+v", stats)
	}
	if stats.UsersByStrategy[store.StrategyLocal] != 2 || stats.UsersByStrategy[store.StrategyGoogle] != 1 {
		t.Errorf("by strategy: %+v", stats.UsersByStrategy)
	}
	if stats.TotalLogins != 1 || stats.ActiveUsers != 1 {
		t.Errorf("activity: logins=%d active=%d", stats.TotalLogins, stats.ActiveUsers)
	}
}

type failingCheck struct{ err error }

func (c failingCheck) CheckHealth(ctx context.Context) error { return c.err }

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		db       error
		cache    error
		status   int
		expected string
	}{
		{"all ok", nil, nil, http.StatusOK, `{"store":"ok","cache":"ok"}`},
		{"cache disabled", nil, store.ErrCacheDisabled, http.StatusOK, `{"store":"ok","cache":"disabled"}`},
		{"cache down", nil, errors.New("redis down"), http.StatusServiceUnavailable, `{"store":"ok","cache":"error"}`},
		{"store down", errors.New("db down"), nil, http.StatusServiceUnavailable, `{"store":"error","cache":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.h.DB = failingCheck{tt.db}
			f.h.Cache = failingCheck{tt.cache}

			w := f.do(http.MethodGet, "/health", "", nil)
			if w.Code != tt.status {
				t.Errorf("status: expected %d, got %d", tt.status, w.Code)
			}
			if got := bodyString(w); got != tt.expected {
				t.Errorf("body: expected %s, got %s", tt.expected, got)
			}
		})
	}
}
