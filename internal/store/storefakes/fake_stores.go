// Package storefakes provides in-memory store implementations for tests.
package storefakes

import (
	"context"
	"sync"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

// FakeUserStore is an in-memory store.UserStore.
type FakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{users: make(map[string]*models.User)}
}

func (f *FakeUserStore) Create(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	f.users[u.ID] = &cp
	return nil
}

func (f *FakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *FakeUserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *FakeUserStore) GetBySubscriptionToken(_ context.Context, secret string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.SubscriptionToken != "" && u.SubscriptionToken == secret {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *FakeUserStore) Update(_ context.Context, id string, upd models.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.SubscriptionToken != nil {
		u.SubscriptionToken = *upd.SubscriptionToken
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		u.ExpiresAt = &t
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.LastLoginAt != nil {
		t := *upd.LastLoginAt
		u.LastLoginAt = &t
	}
	if upd.TrafficLimit != nil {
		u.TrafficLimit = *upd.TrafficLimit
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (f *FakeUserStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *FakeUserStore) List(_ context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeUserStore) ListByParent(_ context.Context, parentID string) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		if u.ParentID == parentID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeUserStore) CountByParent(ctx context.Context, parentID string) (int, error) {
	users, _ := f.ListByParent(ctx, parentID)
	return len(users), nil
}

func (f *FakeUserStore) SumTrafficByParent(ctx context.Context, parentID string) (int64, int64, error) {
	users, _ := f.ListByParent(ctx, parentID)
	var used, limit int64
	for _, u := range users {
		used += u.TrafficUsed
		limit += u.TrafficLimit
	}
	return used, limit, nil
}

func (f *FakeUserStore) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *FakeUserStore) IncrementTrafficUsed(_ context.Context, id string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.TrafficUsed += delta
	u.UpdatedAt = time.Now()
	return nil
}

func (f *FakeUserStore) ResetTraffic(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.TrafficUsed = 0
	now := time.Now()
	u.TrafficResetAt = &now
	u.UpdatedAt = now
	return nil
}

// FakeTokenStore is an in-memory store.TokenStore keyed by token secret.
type FakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.Token
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{tokens: make(map[string]*models.Token)}
}

func (f *FakeTokenStore) Create(_ context.Context, t *models.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	f.tokens[t.Secret] = &cp
	return nil
}

func (f *FakeTokenStore) GetBySecret(_ context.Context, secret string) (*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secret]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *FakeTokenStore) GetByID(_ context.Context, id string) (*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *FakeTokenStore) ListByUser(_ context.Context, userID string) ([]*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Token
	for _, t := range f.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeTokenStore) Update(_ context.Context, secret string, upd models.TokenUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secret]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.ExpiresAt != nil {
		e := *upd.ExpiresAt
		t.ExpiresAt = &e
	}
	if upd.MaxAccess != nil {
		t.MaxAccess = *upd.MaxAccess
	}
	if upd.AllowedIPs != nil {
		t.AllowedIPs = upd.AllowedIPs
	}
	if upd.EnabledNodes != nil {
		t.EnabledNodes = upd.EnabledNodes
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (f *FakeTokenStore) RecordAccess(_ context.Context, secret, clientIP, userAgent string, consume bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secret]
	if !ok {
		return store.ErrNotFound
	}
	t.AccessCount++
	now := time.Now()
	t.LastAccessAt = &now
	t.LastAccessIP = clientIP
	t.LastUserAgent = userAgent
	if consume && t.OneTimeUse {
		t.IsConsumed = true
	}
	t.UpdatedAt = now
	return nil
}

func (f *FakeTokenStore) Delete(_ context.Context, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[secret]; !ok {
		return store.ErrNotFound
	}
	delete(f.tokens, secret)
	return nil
}

func (f *FakeTokenStore) DeleteByUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for secret, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, secret)
		}
	}
	return nil
}

func (f *FakeTokenStore) List(_ context.Context) ([]*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Token
	for _, t := range f.tokens {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeTokenStore) Stats(_ context.Context) (*models.TokenStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.TokenStats{}
	now := time.Now()
	for _, t := range f.tokens {
		stats.Total++
		stats.TotalAccess += int64(t.AccessCount)
		if t.Status == models.TokenStatusActive && !t.Expired(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats, nil
}

// FakeUsageStore is an in-memory store.UsageStore.
type FakeUsageStore struct {
	mu      sync.Mutex
	records map[string]*models.UsageRecord // key: userID + "|" + day
}

func NewFakeUsageStore() *FakeUsageStore {
	return &FakeUsageStore{records: make(map[string]*models.UsageRecord)}
}

func usageKey(userID string, day time.Time) string {
	return userID + "|" + day.Format("2006-01-02")
}

func (f *FakeUsageStore) Record(_ context.Context, userID string, day time.Time, uploadBytes, downloadBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := usageKey(userID, day)
	rec, ok := f.records[key]
	if !ok {
		rec = &models.UsageRecord{UserID: userID, Date: day}
		f.records[key] = rec
	}
	rec.AccessCount++
	rec.UploadBytes += uploadBytes
	rec.DownloadBytes += downloadBytes
	return nil
}

func (f *FakeUsageStore) UserTotals(_ context.Context, userID string) (*models.UsageTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := &models.UsageTotals{}
	for _, rec := range f.records {
		if rec.UserID == userID {
			totals.AccessCount += rec.AccessCount
			totals.UploadBytes += rec.UploadBytes
			totals.DownloadBytes += rec.DownloadBytes
		}
	}
	return totals, nil
}

func (f *FakeUsageStore) UserDay(_ context.Context, userID string, day time.Time) (*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[usageKey(userID, day)]; ok {
		cp := *rec
		return &cp, nil
	}
	return &models.UsageRecord{UserID: userID, Date: day}, nil
}

type fakeSessionEntry struct {
	session   models.Session
	expiresAt time.Time
}

// FakeSessionStore is an in-memory store.SessionStore with an injectable
// clock so tests can cross TTL boundaries without sleeping.
type FakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]fakeSessionEntry

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{
		sessions: make(map[string]fakeSessionEntry),
		Now:      time.Now,
	}
}

func (f *FakeSessionStore) Create(_ context.Context, token string, sess *models.Session, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = fakeSessionEntry{session: *sess, expiresAt: f.Now().Add(ttl)}
	return nil
}

func (f *FakeSessionStore) Get(_ context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.sessions[token]
	if !ok || !f.Now().Before(entry.expiresAt) {
		return nil, store.ErrNotFound
	}
	cp := entry.session
	return &cp, nil
}

func (f *FakeSessionStore) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}
