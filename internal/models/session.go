package models

import "time"

// Session is the cache-resident snapshot stored against an opaque session
// token. Absence in the cache is equivalent to invalid/expired; account
// state is re-checked against the durable store on every validation.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
