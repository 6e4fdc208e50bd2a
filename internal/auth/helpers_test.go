// helpers_test.go

// shared fixture and response assertions for handler, middleware, and service tests.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/MGallo-Code/gatehouse/internal/testutil"
	"github.com/MGallo-Code/gatehouse/internal/tokens"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery"

// fixture wires a Handler over an in-memory SQLite store and test doubles.
type fixture struct {
	db       *store.SQLiteStore
	users    *credential.Store
	tokens   *tokens.Manager
	cache    *testutil.MockSessionCache
	mailer   *testutil.MockMailer
	limiter  *testutil.MockRateLimiter
	provider *testutil.MockProvider
	sessions *SessionManager
	svc      *Service
	h        *Handler
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       testutil.NewSQLiteStore(t),
		cache:    testutil.NewMockSessionCache(),
		mailer:   &testutil.MockMailer{},
		limiter:  &testutil.MockRateLimiter{},
		provider: &testutil.MockProvider{ProviderName: "google"},
	}
	var err error
	f.users, err = credential.New(f.db, credential.NewBcryptHasher(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	f.tokens = tokens.NewManager(f.db)
	f.sessions = NewSessionManager(f.db, f.cache, 24*time.Hour)
	f.svc = NewService(f.users, f.tokens, f.mailer, f.sessions, f.db, TokenTTLs{Verify: 24 * time.Hour, Reset: time.Hour})
	f.h = &Handler{
		Svc:       f.svc,
		Sessions:  f.sessions,
		Limiter:   f.limiter,
		Providers: oauth.NewRegistry(f.provider),
		Cookies:   Cookies{Secure: true},
		Rates: RatePolicies{
			Login:  store.RateLimit{MaxAttempts: 10, Window: time.Minute},
			Signup: store.RateLimit{MaxAttempts: 5, Window: time.Minute},
			Forgot: store.RateLimit{MaxAttempts: 3, Window: time.Minute},
		},
		DB:    f.db,
		Cache: f.cache,
	}
	f.router = testRouter(f.h)
	return f
}

// testRouter mounts the production route table without transport middleware.
func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

// createLocal inserts a LOCAL user with testPassword.
func (f *fixture) createLocal(t *testing.T, email string, verified bool) *store.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.users.CreateUser(ctx, "Test User", email, credential.Password(testPassword))
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if verified {
		if err := f.users.MarkEmailVerified(ctx, u.ID); err != nil {
			t.Fatalf("verifying user: %v", err)
		}
		u.EmailVerified = true
	}
	return u
}

// createGoogle inserts a verified GOOGLE_OAUTH user.
func (f *fixture) createGoogle(t *testing.T, email, sub string) *store.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), "Google User", email,
		credential.External{Strategy: store.StrategyGoogle, ID: sub})
	if err != nil {
		t.Fatalf("creating google user: %v", err)
	}
	return u
}

// session is a live session as a browser would hold it.
type session struct {
	cookie *http.Cookie
	csrf   string
}

// signIn creates a session for userID directly through the manager.
func (f *fixture) signIn(t *testing.T, userID int64) session {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), userID, nil, nil)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return session{
		cookie: &http.Cookie{Name: f.h.Cookies.SessionName(), Value: base64.RawURLEncoding.EncodeToString(s.RawToken[:])},
		csrf:   base64.RawURLEncoding.EncodeToString(s.CSRFToken),
	}
}

// do sends a request through the router. A non-nil sess attaches its cookie
// and, for mutating methods, its CSRF header.
func (f *fixture) do(method, path, body string, sess *session) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if sess != nil {
		req.AddCookie(sess.cookie)
		if isMutating(method) {
			req.Header.Set(CSRFHeader, sess.csrf)
		}
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// --- Response assertions ---

func bodyString(w *httptest.ResponseRecorder) string {
	return strings.TrimSpace(w.Body.String())
}

// assertJSONMessage checks status, Content-Type, and an exact {"message":...} body.
func assertJSONMessage(t *testing.T, w *httptest.ResponseRecorder, status int, expectedMsg string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d (body %s)", status, w.Code, bodyString(w))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	expected := fmt.Sprintf(`{"message":"%s"}`, expectedMsg)
	if got := bodyString(w); got != expected {
		t.Errorf("body: expected %q, got %q", expected, got)
	}
}

// assertBadRequest checks response is 400 JSON with expected message and field.
func assertBadRequest(t *testing.T, w *httptest.ResponseRecorder, expectedField, expectedMsg string) {
	t.Helper()
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: expected 400, got %d", w.Code)
	}
	expected := fmt.Sprintf(`{"message":"%s","field":"%s"}`, expectedMsg, expectedField)
	if expectedField == "" {
		expected = fmt.Sprintf(`{"message":"%s"}`, expectedMsg)
	}
	if got := bodyString(w); got != expected {
		t.Errorf("body: expected %q, got %q", expected, got)
	}
}

func assertUnauthorized(t *testing.T, w *httptest.ResponseRecorder, expectedMsg string) {
	t.Helper()
	assertJSONMessage(t, w, http.StatusUnauthorized, expectedMsg)
}

func assertForbidden(t *testing.T, w *httptest.ResponseRecorder, expectedMsg string) {
	t.Helper()
	assertJSONMessage(t, w, http.StatusForbidden, expectedMsg)
}

func assertInternalServerError(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assertJSONMessage(t, w, http.StatusInternalServerError, "internal server error")
}

// decodeSession parses the session response contract.
func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding session response %q: %v", bodyString(w), err)
	}
	if resp.CSRFToken == "" {
		t.Error("csrf_token: expected non-empty")
	}
	return resp
}

// findCookie returns the named cookie from the response, or nil.
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// assertSessionCookies checks the session and CSRF cookies were set with the right attributes.
func assertSessionCookies(t *testing.T, w *httptest.ResponseRecorder, csrf string) {
	t.Helper()
	sc := findCookie(w, "__Host-session")
	if sc == nil {
		t.Fatal("__Host-session cookie not found")
	}
	if !sc.HttpOnly || !sc.Secure || sc.SameSite != http.SameSiteStrictMode || sc.Path != "/" {
		t.Errorf("session cookie attributes: %+v", sc)
	}
	if sc.Value == "" || sc.MaxAge <= 0 {
		t.Errorf("session cookie should carry a live token, got %+v", sc)
	}
	cc := findCookie(w, "__Host-csrf")
	if cc == nil {
		t.Fatal("__Host-csrf cookie not found")
	}
	if cc.HttpOnly {
		t.Error("csrf cookie must be readable by scripts")
	}
	if cc.Value != csrf {
		t.Errorf("csrf cookie %q does not match response token %q", cc.Value, csrf)
	}
}

// assertClearedSession checks the session cookie was expired.
func assertClearedSession(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	sc := findCookie(w, "__Host-session")
	if sc == nil {
		t.Fatal("expected __Host-session cookie to be cleared")
	}
	if sc.MaxAge >= 0 || sc.Value != "" {
		t.Errorf("session cookie not cleared: %+v", sc)
	}
}

// decodeCookie returns the raw token a session cookie carries.
func decodeCookie(t *testing.T, value string) []byte {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		t.Fatalf("decoding cookie: %v", err)
	}
	return raw
}
