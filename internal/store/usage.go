package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// PostgresUsageStore keeps per-identity, per-day usage rows in sub_user_stats.
type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

// Record upserts today's row. The ON CONFLICT increment keeps concurrent
// reconciliation ticks additive regardless of ordering.
func (s *PostgresUsageStore) Record(ctx context.Context, userID string, day time.Time, uploadBytes, downloadBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_user_stats (user_id, date, access_count, download_bytes, upload_bytes)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (user_id, date) DO UPDATE SET
			access_count = sub_user_stats.access_count + 1,
			download_bytes = sub_user_stats.download_bytes + EXCLUDED.download_bytes,
			upload_bytes = sub_user_stats.upload_bytes + EXCLUDED.upload_bytes,
			updated_at = NOW()
	`, userID, day.Format("2006-01-02"), downloadBytes, uploadBytes)
	return err
}

func (s *PostgresUsageStore) UserTotals(ctx context.Context, userID string) (*models.UsageTotals, error) {
	var totals models.UsageTotals
	var access, download, upload sql.NullInt64
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(access_count), SUM(download_bytes), SUM(upload_bytes), MAX(updated_at)
		FROM sub_user_stats WHERE user_id = $1
	`, userID).Scan(&access, &download, &upload, &last)
	if err != nil {
		return nil, err
	}
	totals.AccessCount = access.Int64
	totals.DownloadBytes = download.Int64
	totals.UploadBytes = upload.Int64
	totals.LastAccessAt = nullableTime(last)
	return &totals, nil
}

func (s *PostgresUsageStore) UserDay(ctx context.Context, userID string, day time.Time) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	rec.UserID = userID
	rec.Date = day
	err := s.db.QueryRowContext(ctx, `
		SELECT access_count, download_bytes, upload_bytes
		FROM sub_user_stats WHERE user_id = $1 AND date = $2
	`, userID, day.Format("2006-01-02")).Scan(&rec.AccessCount, &rec.DownloadBytes, &rec.UploadBytes)
	if err == sql.ErrNoRows {
		return &rec, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
