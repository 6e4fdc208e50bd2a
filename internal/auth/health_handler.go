// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/gatehouse/internal/store"
)

// CheckHealth handles GET /health -- pings the SQL store and the cache, returns per-dependency status.
// Returns 200 if both are healthy (or the cache is disabled), 503 if either is down.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	cacheStatus := "ok"
	storeStatus := "ok"

	if err := h.Cache.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			cacheStatus = "disabled"
		} else {
			logError(r, "cache health check failed", "error", err)
			cacheStatus = "error"
		}
	}
	if err := h.DB.CheckHealth(r.Context()); err != nil {
		logError(r, "store health check failed", "error", err)
		storeStatus = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if cacheStatus == "error" || storeStatus == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(struct {
		Store string `json:"store"`
		Cache string `json:"cache"`
	}{storeStatus, cacheStatus})
}
