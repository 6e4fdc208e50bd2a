// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with request context (request id, IP, user agent, method, path,
// and the user id once LoadSession has run).
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// reqAttrs returns standard request-scoped attributes for logging.
func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if rc := FromContext(r.Context()); rc.Authenticated() {
		attrs = append(attrs, "session_user_id", rc.User.ID)
	}
	return attrs
}

func logDebug(r *http.Request, msg string, args ...any) {
	slog.Debug(msg, append(reqAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	slog.Info(msg, append(reqAttrs(r), args...)...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	slog.Warn(msg, append(reqAttrs(r), args...)...)
}

func logError(r *http.Request, msg string, args ...any) {
	slog.Error(msg, append(reqAttrs(r), args...)...)
}
