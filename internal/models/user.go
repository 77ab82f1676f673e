package models

import "time"

// Roles a subscription account can hold. Only top-level admins (no parent)
// may own sub-accounts.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username     string `json:"username"`
	PasswordHash string `json:"-"` // Don't return password hash in JSON
	Name         string `json:"name"`
	Role         string `json:"role"`
	ParentID     string `json:"parent_id,omitempty"`

	// Primary subscription token bound to this user. The user may hold
	// additional still-valid tokens after regeneration.
	SubscriptionToken string `json:"subscription_token,omitempty"`

	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Quota bookkeeping (bytes). TrafficUsed is the authoritative counter
	// and is only ever mutated through atomic increments at the store layer.
	TrafficLimit   int64      `json:"traffic_limit"`
	TrafficUsed    int64      `json:"traffic_used"`
	TrafficResetAt *time.Time `json:"traffic_reset_at,omitempty"`
}

// Expired reports whether the account's expiry timestamp has passed.
func (u *User) Expired(now time.Time) bool {
	return u.ExpiresAt != nil && u.ExpiresAt.Before(now)
}

// TrafficAvailable reports whether the user is still under quota.
func (u *User) TrafficAvailable() bool {
	return u.TrafficUsed < u.TrafficLimit
}

// UserUpdate is the explicit set of user fields that may be patched.
// Nil fields are left untouched.
type UserUpdate struct {
	Name              *string
	Role              *string
	SubscriptionToken *string
	ExpiresAt         *time.Time
	IsActive          *bool
	PasswordHash      *string
	LastLoginAt       *time.Time
	TrafficLimit      *int64
}

// IsZero reports whether the update patches nothing.
func (u UserUpdate) IsZero() bool {
	return u.Name == nil && u.Role == nil && u.SubscriptionToken == nil &&
		u.ExpiresAt == nil && u.IsActive == nil && u.PasswordHash == nil &&
		u.LastLoginAt == nil && u.TrafficLimit == nil
}
