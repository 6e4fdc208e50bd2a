// profile_handler.go -- Profile, user directory, and statistics endpoints.
package auth

import (
	"net/http"
)

type profileResponse struct {
	User userView `json:"user"`
}

// GetProfile handles GET /profile. Counts as activity, not as a login.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.Svc.Profile(r.Context(), FromContext(r.Context()).User)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, profileResponse{User: viewOf(u)})
}

// UpdateProfile handles PATCH /profile {name}.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decode(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}

	u, err := h.Svc.UpdateName(r.Context(), FromContext(r.Context()).User, in.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "profile updated", "user_id", u.ID)
	WriteJSON(w, http.StatusOK, profileResponse{User: viewOf(u)})
}

// ListUsers handles GET /users. No pagination.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Svc.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	views := make([]userView, len(users))
	for i := range users {
		views[i] = viewOf(&users[i])
	}
	WriteJSON(w, http.StatusOK, struct {
		Users []userView `json:"users"`
	}{views})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Statistics(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
