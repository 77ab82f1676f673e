package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// PostgresUserStore persists users in the sub_users table.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, username, password_hash, name, role, parent_id, subscription_token,
	expires_at, is_active, traffic_limit, traffic_used, traffic_reset_at,
	last_login_at, created_at, updated_at`

func (s *PostgresUserStore) Create(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_users (id, username, password_hash, name, role, parent_id, subscription_token,
			expires_at, is_active, traffic_limit, traffic_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, u.ID, u.Username, u.PasswordHash, u.Name, u.Role, nullString(u.ParentID),
		nullString(u.SubscriptionToken), u.ExpiresAt, u.IsActive, u.TrafficLimit, u.TrafficUsed)
	return err
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM sub_users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM sub_users WHERE username = $1`, username)
	return scanUser(row)
}

func (s *PostgresUserStore) GetBySubscriptionToken(ctx context.Context, secret string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM sub_users WHERE subscription_token = $1`, secret)
	return scanUser(row)
}

func (s *PostgresUserStore) Update(ctx context.Context, id string, upd models.UserUpdate) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Role != nil {
		add("role", *upd.Role)
	}
	if upd.SubscriptionToken != nil {
		add("subscription_token", nullString(*upd.SubscriptionToken))
	}
	if upd.ExpiresAt != nil {
		add("expires_at", *upd.ExpiresAt)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.LastLoginAt != nil {
		add("last_login_at", *upd.LastLoginAt)
	}
	if upd.TrafficLimit != nil {
		add("traffic_limit", *upd.TrafficLimit)
	}
	if len(args) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE sub_users SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sub_users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresUserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM sub_users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *PostgresUserStore) ListByParent(ctx context.Context, parentID string) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM sub_users WHERE parent_id = $1 ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *PostgresUserStore) CountByParent(ctx context.Context, parentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sub_users WHERE parent_id = $1`, parentID).Scan(&n)
	return n, err
}

func (s *PostgresUserStore) SumTrafficByParent(ctx context.Context, parentID string) (int64, int64, error) {
	var used, limit sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(traffic_used), SUM(traffic_limit) FROM sub_users WHERE parent_id = $1`,
		parentID).Scan(&used, &limit)
	if err != nil {
		return 0, 0, err
	}
	return used.Int64, limit.Int64, nil
}

func (s *PostgresUserStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sub_users`).Scan(&n)
	return n, err
}

func (s *PostgresUserStore) IncrementTrafficUsed(ctx context.Context, id string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_users SET traffic_used = traffic_used + $1, updated_at = NOW() WHERE id = $2`,
		delta, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresUserStore) ResetTraffic(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_users SET traffic_used = 0, traffic_reset_at = NOW(), updated_at = NOW() WHERE id = $1`,
		id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var name, parentID, subToken sql.NullString
	var expiresAt, resetAt, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &name, &u.Role, &parentID,
		&subToken, &expiresAt, &u.IsActive, &u.TrafficLimit, &u.TrafficUsed,
		&resetAt, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.ParentID = parentID.String
	u.SubscriptionToken = subToken.String
	u.ExpiresAt = nullableTime(expiresAt)
	u.TrafficResetAt = nullableTime(resetAt)
	u.LastLoginAt = nullableTime(lastLogin)
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		var u models.User
		var name, parentID, subToken sql.NullString
		var expiresAt, resetAt, lastLogin sql.NullTime
		err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &name, &u.Role, &parentID,
			&subToken, &expiresAt, &u.IsActive, &u.TrafficLimit, &u.TrafficUsed,
			&resetAt, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, err
		}
		u.Name = name.String
		u.ParentID = parentID.String
		u.SubscriptionToken = subToken.String
		u.ExpiresAt = nullableTime(expiresAt)
		u.TrafficResetAt = nullableTime(resetAt)
		u.LastLoginAt = nullableTime(lastLogin)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
