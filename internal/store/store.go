// Package store owns all durable mutation of users, tokens and usage rows,
// plus the volatile session cache. Counter updates (quota used, access count)
// are single-statement atomic increments so concurrent writers compose
// additively; no caller may fetch-then-write a counter.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// ErrNotFound is returned when the referenced row or cache entry is absent.
var ErrNotFound = errors.New("not found")

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetBySubscriptionToken(ctx context.Context, secret string) (*models.User, error)
	Update(ctx context.Context, id string, upd models.UserUpdate) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.User, error)
	ListByParent(ctx context.Context, parentID string) ([]*models.User, error)
	CountByParent(ctx context.Context, parentID string) (int, error)
	SumTrafficByParent(ctx context.Context, parentID string) (used, limit int64, err error)
	Count(ctx context.Context) (int, error)

	// IncrementTrafficUsed adds delta to the user's quota-used counter in a
	// single UPDATE. It never clamps and never reads first.
	IncrementTrafficUsed(ctx context.Context, id string, delta int64) error
	ResetTraffic(ctx context.Context, id string) error
}

type TokenStore interface {
	Create(ctx context.Context, t *models.Token) error
	GetBySecret(ctx context.Context, secret string) (*models.Token, error)
	GetByID(ctx context.Context, id string) (*models.Token, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Token, error)
	Update(ctx context.Context, secret string, upd models.TokenUpdate) error
	Delete(ctx context.Context, secret string) error
	DeleteByUser(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*models.Token, error)
	Stats(ctx context.Context) (*models.TokenStats, error)

	// RecordAccess increments the access counter, stamps the last-access
	// fields and, when consume is set, flips is_consumed — all in one
	// statement so consumption and the access record cannot diverge.
	RecordAccess(ctx context.Context, secret, clientIP, userAgent string, consume bool) error
}

type UsageStore interface {
	// Record upserts one per-day row: +1 access, plus the byte deltas.
	Record(ctx context.Context, userID string, day time.Time, uploadBytes, downloadBytes int64) error
	UserTotals(ctx context.Context, userID string) (*models.UsageTotals, error)
	UserDay(ctx context.Context, userID string, day time.Time) (*models.UsageRecord, error)
}

// SessionStore maps opaque session tokens to identity snapshots with a TTL.
// Absence means invalid/expired; there is no durable session table.
type SessionStore interface {
	Create(ctx context.Context, token string, sess *models.Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
}
