// routes.go -- The HTTP route table and the guards in front of each route.
package auth

import "github.com/go-chi/chi/v5"

// Routes mounts session loading, CSRF, and every endpoint onto r.
// Transport middleware (request IDs, logging, recovery) belongs to the caller.
func (h *Handler) Routes(r chi.Router) {
	// CSRF reads the session LoadSession resolved.
	// DO NOT RUN CSRF BEFORE LoadSession
	r.Use(h.LoadSession)
	r.Use(CSRFMiddleware)

	r.Get("/health", h.CheckHealth)
	r.Post("/verify-email/{token}", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(Guard(RequireAnonymous))
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Get("/oauth/{provider}", h.OAuthRedirect)
		r.Get("/oauth/{provider}/callback", h.OAuthCallback)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/confirm", h.ConfirmPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(Guard(RequireAuthenticated))
		r.Get("/session", h.Session)
		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)
	})

	r.With(Guard(RequireLocal, RequireUnverified)).Post("/resend-verification", h.ResendVerification)
	r.With(Guard(RequireLocal)).Post("/password/reset", h.ChangePassword)

	r.Group(func(r chi.Router) {
		r.Use(Guard(RequireVerified))
		r.Get("/users", h.ListUsers)
		r.Get("/stats", h.Stats)
	})
}
