package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hy2panel/subpanel-backend/internal/handlers"
	"github.com/hy2panel/subpanel-backend/internal/middleware"
)

// SetupRoutes wires the subscription panel's HTTP surface onto the router.
func SetupRoutes(r *chi.Mux, h *handlers.Handler) {
	r.Get("/health", healthCheck)

	r.Route("/sub", func(r chi.Router) {
		r.Get("/health", healthCheck)

		// Proxy runtime auth callback. No rate limit: the runtime calls this
		// for every connection attempt and must never be throttled.
		r.Post("/auth/hysteria", h.HysteriaAuth)

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimitMiddleware).Post("/login", h.Login)

			r.Get("/verify", h.RequireUser(h.Verify))
			r.Post("/logout", h.RequireUser(h.Logout))
			r.Post("/change-password", h.RequireUser(h.ChangePassword))

			r.Get("/subscription", h.RequireUser(h.SubscriptionInfo))
			r.Post("/regenerate-token", h.RequireUser(h.RegenerateToken))
			r.Get("/user-traffic", h.RequireUser(h.UserTraffic))
			r.Get("/traffic", h.RequireUser(h.TrafficHistory))
			r.Get("/nodes", h.RequireUser(h.UserNodes))
			r.Get("/stats", h.RequireUser(h.Stats))
			r.Get("/overview", h.RequireUser(h.Overview))

			r.Get("/admin-stats", h.RequireTopAdmin(h.AdminStats))
			r.Get("/sub-users", h.RequireTopAdmin(h.ListSubUsers))
			r.Post("/sub-users", h.RequireTopAdmin(h.CreateSubUser))
			r.Put("/sub-users/{userID}", h.RequireTopAdmin(h.UpdateSubUser))
			r.Delete("/sub-users/{userID}", h.RequireTopAdmin(h.DeleteSubUser))
			r.Post("/sub-users/{userID}/reset-password", h.RequireTopAdmin(h.ResetSubUserPassword))
			r.Post("/sub-users/{userID}/regenerate-token", h.RequireTopAdmin(h.RegenerateSubUserToken))
			r.Post("/sub-users/{userID}/reset-traffic", h.RequireTopAdmin(h.ResetSubUserTraffic))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKeyMiddleware(h.Cfg.AdminAPIKeys))

			r.Get("/users", h.AdminListUsers)
			r.Post("/users", h.AdminCreateUser)
			r.Put("/users/{userID}", h.AdminUpdateUser)
			r.Delete("/users/{userID}", h.AdminDeleteUser)
			r.Put("/users/{userID}/role", h.AdminSetRole)
			r.Post("/users/{userID}/regenerate-token", h.AdminRegenerateUserToken)
			r.Post("/users/{userID}/reset-password", h.AdminResetUserPassword)

			r.Get("/tokens", h.AdminListTokens)
			r.Post("/tokens", h.AdminCreateToken)
			r.Delete("/tokens/{token}", h.AdminDeleteToken)

			r.Get("/nodes", h.AdminListNodes)
			r.Post("/sync", h.AdminSync)
		})

		// Catch-all subscription fetch, keep it last so the named routes
		// above take precedence.
		r.With(middleware.RateLimitMiddleware).Get("/{token}", h.Subscription)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
