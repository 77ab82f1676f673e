package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/services"
)

// Machine-facing admin surface, guarded by the API-key middleware.

// AdminListUsers returns every account.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
	})
}

// AdminCreateUser creates an account with an explicit role and optional
// parent.
func (h *Handler) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string     `json:"username"`
		Password     string     `json:"password"`
		Name         string     `json:"name"`
		Role         string     `json:"role"`
		ParentID     string     `json:"parent_id"`
		TrafficLimit int64      `json:"traffic_limit"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.Users.CreateUser(r.Context(), req.Username, req.Password, services.CreateUserOptions{
		Name:         req.Name,
		Role:         req.Role,
		ParentID:     req.ParentID,
		TrafficLimit: req.TrafficLimit,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	secret, _, err := h.Users.EnsureSubscriptionToken(r.Context(), user, "admin-api")
	if err != nil {
		writeError(w, err)
		return
	}
	user.SubscriptionToken = secret

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"user":          user,
		"subscribe_url": h.subscribeURL(r, secret),
	})
}

// AdminUpdateUser patches any account.
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string    `json:"name"`
		IsActive     *bool      `json:"is_active"`
		TrafficLimit *int64     `json:"traffic_limit"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	upd := models.UserUpdate{
		Name:         req.Name,
		IsActive:     req.IsActive,
		TrafficLimit: req.TrafficLimit,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := h.Users.UpdateUser(r.Context(), chi.URLParam(r, "userID"), upd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User updated",
	})
}

// AdminDeleteUser removes any account and its tokens.
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted",
	})
}

// AdminSetRole switches an account between admin and user.
func (h *Handler) AdminSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Users.SetRole(r.Context(), chi.URLParam(r, "userID"), req.Role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Role updated",
	})
}

// AdminRegenerateUserToken rotates any user's subscription link.
func (h *Handler) AdminRegenerateUserToken(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := h.regenerateFor(r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"token":         token.Secret,
		"subscribe_url": h.subscribeURL(r, token.Secret),
	})
}

// AdminResetUserPassword sets a new password on any account.
func (h *Handler) AdminResetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Users.ResetPassword(r.Context(), chi.URLParam(r, "userID"), req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset",
	})
}

// AdminListTokens returns every token plus the aggregate counters.
func (h *Handler) AdminListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.Tokens.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.Tokens.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tokens":  tokens,
		"stats":   stats,
	})
}

// AdminCreateToken mints a token with explicit policy.
func (h *Handler) AdminCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		ExpiryDays   int      `json:"expiry_days"`
		MaxAccess    int      `json:"max_access"`
		OneTimeUse   bool     `json:"one_time_use"`
		UserID       string   `json:"user_id"`
		AllowedIPs   []string `json:"allowed_ips"`
		EnabledNodes []string `json:"enabled_nodes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.Tokens.Create(r.Context(), services.CreateTokenOptions{
		Name:         req.Name,
		ExpiryDays:   req.ExpiryDays,
		MaxAccess:    req.MaxAccess,
		OneTimeUse:   req.OneTimeUse,
		UserID:       req.UserID,
		AllowedIPs:   req.AllowedIPs,
		EnabledNodes: req.EnabledNodes,
		CreatedBy:    "admin-api",
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"token":         token,
		"subscribe_url": h.subscribeURL(r, token.Secret),
	})
}

// AdminDeleteToken removes a token by secret.
func (h *Handler) AdminDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := h.Tokens.Delete(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Token deleted",
	})
}

// AdminListNodes returns the advertised node list.
func (h *Handler) AdminListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"nodes":   h.Subs.Nodes(),
	})
}

// AdminSync triggers one reconciliation cycle immediately.
func (h *Handler) AdminSync(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		writeError(w, services.ErrUnavailable)
		return
	}
	if err := h.Sync.Sync(r.Context()); err != nil {
		writeError(w, services.ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  h.Sync.Status(),
	})
}
