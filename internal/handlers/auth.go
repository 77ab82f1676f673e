package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// Login exchanges a username/password for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sessionToken, user, err := h.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   sessionToken,
		"user":    user,
	})
}

// Verify confirms the session is still valid and returns the live user.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// Logout drops the session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Logout(r.Context(), sessionToken(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out",
	})
}

// ChangePassword verifies the old credential before setting the new one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Users.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed",
	})
}

// SubscriptionInfo returns the user's subscription token and subscribe URL,
// minting a bound token first if the account has none.
func (h *Handler) SubscriptionInfo(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	secret, _, err := h.Users.EnsureSubscriptionToken(r.Context(), user, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"token":         secret,
		"subscribe_url": h.subscribeURL(r, secret),
	})
}

// RegenerateToken rotates the session user's subscription link. The previous
// token stays valid; clients holding it keep working.
func (h *Handler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
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

// TrafficHistory reports the session user's reconciled usage: today's row,
// the all-time totals, and the current quota standing.
func (h *Handler) TrafficHistory(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	today, err := h.Usage.UserDay(r.Context(), user.ID, time.Now().Truncate(24*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	totals, err := h.Usage.UserTotals(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.Users.CheckTrafficAvailable(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"today":   today,
		"totals":  totals,
		"traffic": status,
	})
}

// UserNodes lists the nodes available to the session user, each with the
// connection link rendered for their subscription token.
func (h *Handler) UserNodes(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	secret, _, err := h.Users.EnsureSubscriptionToken(r.Context(), user, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := h.Tokens.Get(r.Context(), secret)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"nodes":   h.Subs.NodeList(token),
	})
}

// UserTraffic reports the session user's quota headroom.
func (h *Handler) UserTraffic(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	status, err := h.Users.CheckTrafficAvailable(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"traffic": status,
	})
}

// Stats lists the session user's tokens with their access counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	tokens, err := h.Tokens.ListByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tokens":  tokens,
	})
}

// Overview combines the session user's traffic and, for top-level admins,
// the aggregate sub-account numbers.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	traffic, err := h.Users.CheckTrafficAvailable(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"success": true,
		"user":    user,
		"traffic": traffic,
	}
	if user.Role == models.RoleAdmin && user.ParentID == "" {
		subStats, err := h.Users.SubUserStatsFor(r.Context(), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["sub_users"] = subStats
		if h.Sync != nil {
			resp["traffic_sync"] = h.Sync.Status()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// regenerateFor rotates a user's bound token and points the account at the
// fresh secret.
func (h *Handler) regenerateFor(r *http.Request, user *models.User) (*models.Token, error) {
	secret, _, err := h.Users.EnsureSubscriptionToken(r.Context(), user, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := h.Tokens.Regenerate(r.Context(), secret)
	if err != nil {
		return nil, err
	}
	if err := h.Users.UpdateUser(r.Context(), user.ID, models.UserUpdate{SubscriptionToken: &token.Secret}); err != nil {
		return nil, err
	}
	return token, nil
}

// subscribeURL builds the external subscription link, preferring the
// configured public base URL over the request host.
func (h *Handler) subscribeURL(r *http.Request, secret string) string {
	base := h.Cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/sub/%s", base, secret)
}
