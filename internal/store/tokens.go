package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// PostgresTokenStore persists subscription tokens in the sub_tokens table.
type PostgresTokenStore struct {
	db *sql.DB
}

func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

const tokenColumns = `id, token, name, status, expires_at, max_access, access_count,
	one_time_use, is_consumed, allowed_ips, enabled_nodes, created_by, user_id,
	last_access_at, last_access_ip, last_user_agent, created_at, updated_at`

func (s *PostgresTokenStore) Create(ctx context.Context, t *models.Token) error {
	allowedIPs, err := json.Marshal(emptySlice(t.AllowedIPs))
	if err != nil {
		return err
	}
	enabledNodes, err := json.Marshal(emptySlice(t.EnabledNodes))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sub_tokens (id, token, name, status, expires_at, max_access, one_time_use,
			allowed_ips, enabled_nodes, created_by, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, t.ID, t.Secret, t.Name, t.Status, t.ExpiresAt, t.MaxAccess, t.OneTimeUse,
		allowedIPs, enabledNodes, t.CreatedBy, nullString(t.UserID))
	return err
}

func (s *PostgresTokenStore) GetBySecret(ctx context.Context, secret string) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM sub_tokens WHERE token = $1`, secret)
	return scanToken(row)
}

func (s *PostgresTokenStore) GetByID(ctx context.Context, id string) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM sub_tokens WHERE id = $1`, id)
	return scanToken(row)
}

func (s *PostgresTokenStore) ListByUser(ctx context.Context, userID string) ([]*models.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM sub_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (s *PostgresTokenStore) Update(ctx context.Context, secret string, upd models.TokenUpdate) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ExpiresAt != nil {
		add("expires_at", *upd.ExpiresAt)
	}
	if upd.MaxAccess != nil {
		add("max_access", *upd.MaxAccess)
	}
	if upd.AllowedIPs != nil {
		b, err := json.Marshal(upd.AllowedIPs)
		if err != nil {
			return err
		}
		add("allowed_ips", b)
	}
	if upd.EnabledNodes != nil {
		b, err := json.Marshal(upd.EnabledNodes)
		if err != nil {
			return err
		}
		add("enabled_nodes", b)
	}
	if len(args) == 0 {
		return nil
	}

	args = append(args, secret)
	query := fmt.Sprintf("UPDATE sub_tokens SET %s WHERE token = $%d", strings.Join(set, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordAccess bumps the access counter and last-access fields, and consumes
// the token when asked, in one UPDATE. A crash can therefore never leave the
// access recorded but the consumption lost, or vice versa.
func (s *PostgresTokenStore) RecordAccess(ctx context.Context, secret, clientIP, userAgent string, consume bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sub_tokens
		SET access_count = access_count + 1,
			last_access_at = NOW(),
			last_access_ip = $2,
			last_user_agent = $3,
			is_consumed = (is_consumed OR (one_time_use AND $4)),
			updated_at = NOW()
		WHERE token = $1
	`, secret, clientIP, userAgent, consume)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresTokenStore) Delete(ctx context.Context, secret string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sub_tokens WHERE token = $1`, secret)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sub_tokens WHERE user_id = $1`, userID)
	return err
}

func (s *PostgresTokenStore) List(ctx context.Context) ([]*models.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM sub_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (s *PostgresTokenStore) Stats(ctx context.Context) (*models.TokenStats, error) {
	var stats models.TokenStats
	var totalAccess sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active' AND (expires_at IS NULL OR expires_at > NOW())),
			COUNT(*) FILTER (WHERE status != 'active' OR (expires_at IS NOT NULL AND expires_at <= NOW())),
			SUM(access_count)
		FROM sub_tokens
	`).Scan(&stats.Total, &stats.Active, &stats.Expired, &totalAccess)
	if err != nil {
		return nil, err
	}
	stats.TotalAccess = totalAccess.Int64
	return &stats, nil
}

func scanToken(row *sql.Row) (*models.Token, error) {
	var t models.Token
	var name, createdBy, userID, lastIP, lastUA sql.NullString
	var expiresAt, lastAccessAt sql.NullTime
	var allowedIPs, enabledNodes []byte
	err := row.Scan(&t.ID, &t.Secret, &name, &t.Status, &expiresAt, &t.MaxAccess,
		&t.AccessCount, &t.OneTimeUse, &t.IsConsumed, &allowedIPs, &enabledNodes,
		&createdBy, &userID, &lastAccessAt, &lastIP, &lastUA, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fillToken(&t, name, createdBy, userID, lastIP, lastUA, expiresAt, lastAccessAt, allowedIPs, enabledNodes)
	return &t, nil
}

func collectTokens(rows *sql.Rows) ([]*models.Token, error) {
	var tokens []*models.Token
	for rows.Next() {
		var t models.Token
		var name, createdBy, userID, lastIP, lastUA sql.NullString
		var expiresAt, lastAccessAt sql.NullTime
		var allowedIPs, enabledNodes []byte
		err := rows.Scan(&t.ID, &t.Secret, &name, &t.Status, &expiresAt, &t.MaxAccess,
			&t.AccessCount, &t.OneTimeUse, &t.IsConsumed, &allowedIPs, &enabledNodes,
			&createdBy, &userID, &lastAccessAt, &lastIP, &lastUA, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		fillToken(&t, name, createdBy, userID, lastIP, lastUA, expiresAt, lastAccessAt, allowedIPs, enabledNodes)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func fillToken(t *models.Token, name, createdBy, userID, lastIP, lastUA sql.NullString,
	expiresAt, lastAccessAt sql.NullTime, allowedIPs, enabledNodes []byte) {
	t.Name = name.String
	t.CreatedBy = createdBy.String
	t.UserID = userID.String
	t.LastAccessIP = lastIP.String
	t.LastUserAgent = lastUA.String
	t.ExpiresAt = nullableTime(expiresAt)
	t.LastAccessAt = nullableTime(lastAccessAt)
	_ = json.Unmarshal(allowedIPs, &t.AllowedIPs)
	_ = json.Unmarshal(enabledNodes, &t.EnabledNodes)
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
