package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store"
	"github.com/hy2panel/subpanel-backend/pkg/utils"
)

// UserService manages the two-level account hierarchy, login sessions and
// per-user quota bookkeeping.
type UserService struct {
	users    store.UserStore
	sessions store.SessionStore
	tokens   *TokenService
	cfg      *config.Config
}

func NewUserService(users store.UserStore, sessions store.SessionStore, tokens *TokenService, cfg *config.Config) *UserService {
	return &UserService{users: users, sessions: sessions, tokens: tokens, cfg: cfg}
}

// CreateUserOptions carries the optional fields for user creation.
type CreateUserOptions struct {
	Name         string
	Role         string
	ParentID     string
	ExpiresAt    *time.Time
	IsActive     *bool
	TrafficLimit int64
}

// CreateUser registers an account. The credential is stored as a one-way
// hash, never as plaintext. A parent, when given, must be a top-level admin.
func (s *UserService) CreateUser(ctx context.Context, username, password string, opts CreateUserOptions) (*models.User, error) {
	if err := utils.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(password) < s.cfg.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.cfg.MinPasswordLength)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	role := opts.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	if opts.ParentID != "" {
		parent, err := s.users.GetByID(ctx, opts.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrInvalidParent
			}
			return nil, err
		}
		// Only root admins may own sub-accounts.
		if parent.Role != models.RoleAdmin || parent.ParentID != "" {
			return nil, ErrInvalidParent
		}
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = username
	}
	isActive := true
	if opts.IsActive != nil {
		isActive = *opts.IsActive
	}
	trafficLimit := opts.TrafficLimit
	if trafficLimit <= 0 {
		trafficLimit = s.cfg.DefaultTraffic
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		ParentID:     opts.ParentID,
		ExpiresAt:    opts.ExpiresAt,
		IsActive:     isActive,
		TrafficLimit: trafficLimit,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Printf("📋 Created subscription user: %s (%s), role: %s", username, user.ID, role)
	return user, nil
}

// CreateSubUser creates a sub-account under an admin, enforcing the per-admin
// slot cap, and binds a freshly minted subscription token to it.
func (s *UserService) CreateSubUser(ctx context.Context, adminID, username, password string, opts CreateUserOptions) (*models.User, error) {
	admin, err := s.users.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if admin.Role != models.RoleAdmin || admin.ParentID != "" {
		return nil, ErrForbidden
	}

	count, err := s.users.CountByParent(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxSubUsers {
		return nil, fmt.Errorf("%w: sub-account limit of %d reached", ErrQuotaExceeded, s.cfg.MaxSubUsers)
	}

	opts.Role = models.RoleUser
	opts.ParentID = adminID
	return s.CreateUser(ctx, username, password, opts)
}

// Login checks the credential and issues a cached session with a fixed TTL.
// Unknown usernames and wrong passwords return the identical error so the
// response cannot be used for username enumeration.
func (s *UserService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !user.IsActive {
		return "", nil, ErrAccountDisabled
	}
	if user.Expired(time.Now()) {
		return "", nil, ErrAccountExpired
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, ErrInvalidCredentials
	}

	sessionToken, err := generateSessionToken()
	if err != nil {
		return "", nil, err
	}
	sess := &models.Session{
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Create(ctx, sessionToken, sess, s.cfg.SessionTTL); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	if err := s.users.Update(ctx, user.ID, models.UserUpdate{LastLoginAt: &now}); err != nil {
		log.Printf("⚠️ Failed to stamp last login for %s: %v", username, err)
	}

	log.Printf("✅ Subscription user logged in: %s (role: %s)", username, user.Role)
	return sessionToken, user, nil
}

// ValidateSession resolves a session token to its live user. Account state is
// re-read from the store on every call so a disabled or expired account is
// rejected immediately, not when the cache entry lapses.
func (s *UserService) ValidateSession(ctx context.Context, sessionToken string) (*models.User, error) {
	if sessionToken == "" {
		return nil, ErrNotFound
	}
	sess, err := s.sessions.Get(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if user.Expired(time.Now()) {
		return nil, ErrAccountExpired
	}
	return user, nil
}

// Logout drops the session. Unknown tokens are a no-op.
func (s *UserService) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionToken)
}

// ChangePassword verifies the old credential before setting the new one.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := utils.VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	return s.setPassword(ctx, user, newPassword)
}

// ResetPassword sets a new credential without the old one (admin operation;
// the route layer enforces who may call it).
func (s *UserService) ResetPassword(ctx context.Context, userID, newPassword string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user, newPassword)
}

func (s *UserService) setPassword(ctx context.Context, user *models.User, newPassword string) error {
	if len(newPassword) < s.cfg.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.cfg.MinPasswordLength)
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, user.ID, models.UserUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	log.Printf("🔑 Password changed for subscription user: %s", user.Username)
	return nil
}

// UpdateUser applies an explicit field-level patch. Structurally invalid
// transitions (unknown role) are rejected here; authorization is the
// caller's responsibility.
func (s *UserService) UpdateUser(ctx context.Context, userID string, upd models.UserUpdate) error {
	if upd.Role != nil && *upd.Role != models.RoleAdmin && *upd.Role != models.RoleUser {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *upd.Role)
	}
	if upd.TrafficLimit != nil && *upd.TrafficLimit < 0 {
		return fmt.Errorf("%w: traffic limit must be non-negative", ErrInvalidInput)
	}
	if upd.IsZero() {
		return nil
	}
	err := s.users.Update(ctx, userID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// SetRole changes a user's role.
func (s *UserService) SetRole(ctx context.Context, userID, role string) error {
	if role != models.RoleAdmin && role != models.RoleUser {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, userID, models.UserUpdate{Role: &role}); err != nil {
		return err
	}
	log.Printf("👤 Set user role: %s -> %s", user.Username, role)
	return nil
}

// DeleteUser removes the account and cascades deletion of its tokens, so no
// orphaned credential can keep drawing on a deleted user's quota.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	log.Printf("🗑️ Deleted subscription user: %s", user.Username)
	return nil
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, userID)
}

// GetUserByUsername returns a user by username.
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return user, err
}

// ListUsers returns all accounts, newest first.
func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.List(ctx)
}

// SubUsers lists an admin's sub-accounts.
func (s *UserService) SubUsers(ctx context.Context, adminID string) ([]*models.User, error) {
	return s.users.ListByParent(ctx, adminID)
}

// SubUserStats is the aggregate view of an admin's sub-accounts.
type SubUserStats struct {
	SubUserCount      int     `json:"sub_user_count"`
	MaxSubUsers       int     `json:"max_sub_users"`
	RemainingSlots    int     `json:"remaining_slots"`
	TotalTrafficUsed  int64   `json:"total_traffic_used"`
	TotalTrafficLimit int64   `json:"total_traffic_limit"`
	TrafficUsedPct    float64 `json:"traffic_used_percent"`
}

// SubUserStatsFor aggregates slot and traffic usage under one admin.
func (s *UserService) SubUserStatsFor(ctx context.Context, adminID string) (*SubUserStats, error) {
	count, err := s.users.CountByParent(ctx, adminID)
	if err != nil {
		return nil, err
	}
	used, _, err := s.users.SumTrafficByParent(ctx, adminID)
	if err != nil {
		return nil, err
	}
	remaining := s.cfg.MaxSubUsers - count
	if remaining < 0 {
		remaining = 0
	}
	stats := &SubUserStats{
		SubUserCount:      count,
		MaxSubUsers:       s.cfg.MaxSubUsers,
		RemainingSlots:    remaining,
		TotalTrafficUsed:  used,
		TotalTrafficLimit: s.cfg.TotalTraffic,
	}
	if s.cfg.TotalTraffic > 0 {
		stats.TrafficUsedPct = float64(used) / float64(s.cfg.TotalTraffic) * 100
	}
	return stats, nil
}

// TrafficStatus describes one user's quota headroom.
type TrafficStatus struct {
	Available    bool    `json:"available"`
	TrafficUsed  int64   `json:"traffic_used"`
	TrafficLimit int64   `json:"traffic_limit"`
	Remaining    int64   `json:"remaining"`
	UsedPercent  float64 `json:"used_percent"`
}

// CheckTrafficAvailable reports whether the user is under quota.
func (s *UserService) CheckTrafficAvailable(ctx context.Context, userID string) (*TrafficStatus, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining := user.TrafficLimit - user.TrafficUsed
	if remaining < 0 {
		remaining = 0
	}
	status := &TrafficStatus{
		Available:    user.TrafficAvailable(),
		TrafficUsed:  user.TrafficUsed,
		TrafficLimit: user.TrafficLimit,
		Remaining:    remaining,
	}
	if user.TrafficLimit > 0 {
		status.UsedPercent = float64(user.TrafficUsed) / float64(user.TrafficLimit) * 100
	}
	return status, nil
}

// UpdateTrafficUsed adds bytesUsed to the user's quota counter, rejecting the
// increment when it would cross the limit. This call-time check applies to
// interactive paths only; the reconciler increments unconditionally and lets
// the next authentication observe the breach.
func (s *UserService) UpdateTrafficUsed(ctx context.Context, userID string, bytesUsed int64) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TrafficUsed+bytesUsed > user.TrafficLimit {
		return ErrQuotaExceeded
	}
	if err := s.users.IncrementTrafficUsed(ctx, userID, bytesUsed); err != nil {
		return err
	}
	log.Printf("📊 Updated traffic for user %s: +%d bytes", user.Username, bytesUsed)
	return nil
}

// ResetTraffic zeroes the quota counter and stamps the reset time.
func (s *UserService) ResetTraffic(ctx context.Context, userID string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.ResetTraffic(ctx, userID); err != nil {
		return err
	}
	log.Printf("🔄 Reset traffic for user %s", user.Username)
	return nil
}

// EnsureSubscriptionToken makes sure the user has a bound token, minting a
// long-lived one when missing.
func (s *UserService) EnsureSubscriptionToken(ctx context.Context, user *models.User, createdBy string) (string, bool, error) {
	if user.SubscriptionToken != "" {
		return user.SubscriptionToken, false, nil
	}

	token, err := s.tokens.Create(ctx, CreateTokenOptions{
		Name:       user.Username + " default subscription",
		ExpiryDays: 3650,
		UserID:     user.ID,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return "", false, err
	}
	if err := s.users.Update(ctx, user.ID, models.UserUpdate{SubscriptionToken: &token.Secret}); err != nil {
		return "", false, err
	}
	log.Printf("🔗 Bound default subscription token for user: %s", user.Username)
	return token.Secret, true, nil
}

// InitDefaultAdmin bootstraps the "admin" account on first start. The
// generated password is returned (and logged once) only when the account was
// just created.
func (s *UserService) InitDefaultAdmin(ctx context.Context) (created bool, password string, err error) {
	admin, err := s.users.GetByUsername(ctx, "admin")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, "", err
	}

	if admin == nil {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return false, "", err
		}
		password = hex.EncodeToString(buf)

		admin, err = s.CreateUser(ctx, "admin", password, CreateUserOptions{
			Name: "Administrator",
			Role: models.RoleAdmin,
		})
		if err != nil {
			return false, "", err
		}
		created = true
		log.Printf("📋 Created default subscription admin account")
		log.Printf("📋 Default admin password: %s", password)
	} else if admin.Role != models.RoleAdmin {
		if err := s.SetRole(ctx, admin.ID, models.RoleAdmin); err != nil {
			return false, "", err
		}
		admin.Role = models.RoleAdmin
	}

	if _, _, err := s.EnsureSubscriptionToken(ctx, admin, "system"); err != nil {
		return created, password, err
	}
	return created, password, nil
}

func (s *UserService) getUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
