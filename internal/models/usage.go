package models

import "time"

// UsageRecord is a per-identity, per-calendar-day usage row accumulated via
// idempotent upsert-increments. It exists for reporting; the User's
// traffic_used counter stays authoritative for quota enforcement.
type UsageRecord struct {
	UserID        string    `json:"user_id"`
	Date          time.Time `json:"date"`
	AccessCount   int64     `json:"access_count"`
	DownloadBytes int64     `json:"download_bytes"`
	UploadBytes   int64     `json:"upload_bytes"`
}

// UsageTotals aggregates a user's usage rows.
type UsageTotals struct {
	AccessCount   int64      `json:"access_count"`
	DownloadBytes int64      `json:"download_bytes"`
	UploadBytes   int64      `json:"upload_bytes"`
	LastAccessAt  *time.Time `json:"last_access_at,omitempty"`
}
