package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/services"
)

// AdminStats returns the aggregate numbers for the admin's sub-accounts.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	admin := UserFromContext(r.Context())
	stats, err := h.Users.SubUserStatsFor(r.Context(), admin.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// ListSubUsers lists the admin's sub-accounts.
func (h *Handler) ListSubUsers(w http.ResponseWriter, r *http.Request) {
	admin := UserFromContext(r.Context())
	users, err := h.Users.SubUsers(r.Context(), admin.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
	})
}

// CreateSubUser creates a sub-account under the session admin and returns it
// together with its subscription link.
func (h *Handler) CreateSubUser(w http.ResponseWriter, r *http.Request) {
	admin := UserFromContext(r.Context())
	var req struct {
		Username     string     `json:"username"`
		Password     string     `json:"password"`
		Name         string     `json:"name"`
		TrafficLimit int64      `json:"traffic_limit"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.Users.CreateSubUser(r.Context(), admin.ID, req.Username, req.Password, services.CreateUserOptions{
		Name:         req.Name,
		TrafficLimit: req.TrafficLimit,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	secret, _, err := h.Users.EnsureSubscriptionToken(r.Context(), user, admin.ID)
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

// UpdateSubUser patches one of the admin's sub-accounts.
func (h *Handler) UpdateSubUser(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubUser(w, r)
	if !ok {
		return
	}
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
	if err := h.Users.UpdateUser(r.Context(), sub.ID, upd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User updated",
	})
}

// DeleteSubUser removes one of the admin's sub-accounts and its tokens.
func (h *Handler) DeleteSubUser(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubUser(w, r)
	if !ok {
		return
	}
	if err := h.Users.DeleteUser(r.Context(), sub.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted",
	})
}

// ResetSubUserPassword sets a new password on a sub-account.
func (h *Handler) ResetSubUserPassword(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubUser(w, r)
	if !ok {
		return
	}
	var req struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Users.ResetPassword(r.Context(), sub.ID, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset",
	})
}

// RegenerateSubUserToken rotates a sub-account's subscription link.
func (h *Handler) RegenerateSubUserToken(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubUser(w, r)
	if !ok {
		return
	}
	token, err := h.regenerateFor(r, sub)
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

// ResetSubUserTraffic zeroes a sub-account's quota counter.
func (h *Handler) ResetSubUserTraffic(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubUser(w, r)
	if !ok {
		return
	}
	if err := h.Users.ResetTraffic(r.Context(), sub.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Traffic reset",
	})
}

// ownedSubUser loads the {userID} route param and verifies it belongs to the
// session admin. Foreign sub-accounts answer 404 rather than 403 so admins
// cannot probe each other's user IDs.
func (h *Handler) ownedSubUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	admin := UserFromContext(r.Context())
	sub, err := h.Users.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if sub.ParentID != admin.ID {
		writeError(w, services.ErrNotFound)
		return nil, false
	}
	return sub, true
}
