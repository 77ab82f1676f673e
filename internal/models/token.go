package models

import "time"

// Token status values. Expiry, access exhaustion and one-time consumption are
// independent predicates evaluated at validation time, not status values.
const (
	TokenStatusActive   = "active"
	TokenStatusDisabled = "disabled"
)

type Token struct {
	// ID is a stable short identifier: the first 8 hex chars of the secret.
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Secret is the opaque bearer credential. It doubles as the per-user
	// proxy password, so it is never logged beyond its ID prefix.
	Secret string `json:"token"`

	Name   string `json:"name"`
	Status string `json:"status"`

	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxAccess   int        `json:"max_access"`
	AccessCount int        `json:"access_count"`

	// OneTimeUse limits subscription-content fetches to a single success.
	// A consumed token stays valid for live proxy authentication.
	OneTimeUse bool `json:"one_time_use"`
	IsConsumed bool `json:"is_consumed"`

	AllowedIPs   []string `json:"allowed_ips"`
	EnabledNodes []string `json:"enabled_nodes"`

	UserID    string `json:"user_id,omitempty"`
	CreatedBy string `json:"created_by"`

	LastAccessAt  *time.Time `json:"last_access_at,omitempty"`
	LastAccessIP  string     `json:"last_access_ip,omitempty"`
	LastUserAgent string     `json:"last_user_agent,omitempty"`
}

// Expired reports whether the token's expiry timestamp has passed.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// AccessExhausted reports whether the max-access cap (if any) is reached.
func (t *Token) AccessExhausted() bool {
	return t.MaxAccess > 0 && t.AccessCount >= t.MaxAccess
}

// IPAllowed reports whether clientIP passes the allow-list. An empty list
// means unrestricted; an empty clientIP is never restricted.
func (t *Token) IPAllowed(clientIP string) bool {
	if len(t.AllowedIPs) == 0 || clientIP == "" {
		return true
	}
	for _, ip := range t.AllowedIPs {
		if ip == clientIP {
			return true
		}
	}
	return false
}

// NodeEnabled reports whether the node may appear in this token's
// subscription content. An empty enabled-node list means all nodes.
func (t *Token) NodeEnabled(nodeID string) bool {
	if len(t.EnabledNodes) == 0 {
		return true
	}
	for _, id := range t.EnabledNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// TokenUpdate is the explicit set of token fields that may be patched.
type TokenUpdate struct {
	Name         *string
	Status       *string
	ExpiresAt    *time.Time
	MaxAccess    *int
	AllowedIPs   []string
	EnabledNodes []string
}

// TokenStats is an aggregate over the token table for the admin overview.
type TokenStats struct {
	Total       int   `json:"total"`
	Active      int   `json:"active"`
	Expired     int   `json:"expired"`
	TotalAccess int64 `json:"total_access"`
}
