package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/services"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	Cfg     *config.Config
	Users   *services.UserService
	Tokens  *services.TokenService
	Subs    *services.SubscriptionService
	Usage   store.UsageStore
	Sync    *services.TrafficSync
	Gateway *services.AuthGateway
}

func New(cfg *config.Config, users *services.UserService, tokens *services.TokenService, subs *services.SubscriptionService, usage store.UsageStore, sync *services.TrafficSync, gateway *services.AuthGateway) *Handler {
	return &Handler{Cfg: cfg, Users: users, Tokens: tokens, Subs: subs, Usage: usage, Sync: sync, Gateway: gateway}
}

type contextKey string

const userContextKey contextKey = "subpanel_user"

// UserFromContext returns the session user attached by RequireUser.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// RequireUser resolves the session token and attaches the live user to the
// request context.
func (h *Handler) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.Users.ValidateSession(r.Context(), sessionToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// RequireTopAdmin additionally demands a top-level admin account. Sub-account
// management is reserved for root admins.
func (h *Handler) RequireTopAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user.Role != models.RoleAdmin || user.ParentID != "" {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"message": "Admin access required",
			})
			return
		}
		next(w, r)
	})
}

// sessionToken pulls the session identifier from Authorization Bearer or the
// X-Session-Token header.
func sessionToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Session-Token")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps service failure classes to HTTP statuses. Messages stay
// generic so responses leak nothing beyond the class itself.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrAccountDisabled),
		errors.Is(err, services.ErrAccountExpired),
		errors.Is(err, services.ErrExpired):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrAlreadyConsumed):
		status = http.StatusGone
	case errors.Is(err, services.ErrQuotaExceeded):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrDuplicateUsername):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidParent):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return services.ErrInvalidInput
	}
	return nil
}
