package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

// tokenIDLength is how many hex chars of the secret form the short ID.
const tokenIDLength = 8

// TokenService creates, validates and rotates subscription tokens.
type TokenService struct {
	tokens    store.TokenStore
	cfg       *config.Config
	newSecret func() (string, error)
}

func NewTokenService(tokens store.TokenStore, cfg *config.Config) *TokenService {
	return &TokenService{tokens: tokens, cfg: cfg, newSecret: generateSecret}
}

// CreateTokenOptions is the policy for a new token. Zero values fall back to
// configured defaults.
type CreateTokenOptions struct {
	Name         string
	ExpiryDays   int
	MaxAccess    int
	OneTimeUse   bool
	UserID       string
	AllowedIPs   []string
	EnabledNodes []string
	CreatedBy    string
}

// Create mints a token with a fresh 32-byte random secret. The short ID is a
// stable prefix of the secret and doubles as the primary key, so a prefix
// collision re-rolls the secret instead of surfacing a constraint error.
func (s *TokenService) Create(ctx context.Context, opts CreateTokenOptions) (*models.Token, error) {
	secret, err := s.freshSecret(ctx)
	if err != nil {
		return nil, err
	}

	expiryDays := opts.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = s.cfg.TokenExpiryDays
	}
	expiresAt := time.Now().Add(time.Duration(expiryDays) * 24 * time.Hour)

	name := opts.Name
	if name == "" {
		name = "subscription"
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "admin"
	}

	token := &models.Token{
		ID:           secret[:tokenIDLength],
		Secret:       secret,
		Name:         name,
		Status:       models.TokenStatusActive,
		ExpiresAt:    &expiresAt,
		MaxAccess:    opts.MaxAccess,
		OneTimeUse:   opts.OneTimeUse,
		UserID:       opts.UserID,
		AllowedIPs:   opts.AllowedIPs,
		EnabledNodes: opts.EnabledNodes,
		CreatedBy:    createdBy,
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	log.Printf("📋 Created subscription token: %s (%s), oneTimeUse: %v", token.ID, token.Name, token.OneTimeUse)
	return token, nil
}

// Validate runs the content-fetch checks against the stored token and the
// caller's IP, in order, short-circuiting on the first failure. Validation
// itself has no side effects; access recording is a separate call.
func (s *TokenService) Validate(ctx context.Context, secret, clientIP string) (*models.Token, error) {
	token, err := s.tokens.GetBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if token.Status != models.TokenStatusActive {
		return nil, ErrForbidden
	}
	if token.Expired(time.Now()) {
		return nil, ErrExpired
	}
	if token.OneTimeUse && token.IsConsumed {
		return nil, ErrAlreadyConsumed
	}
	if token.AccessExhausted() {
		return nil, ErrQuotaExceeded
	}
	if !token.IPAllowed(clientIP) {
		log.Printf("🚫 Subscription access denied for IP: %s, token: %s", clientIP, token.ID)
		return nil, ErrForbidden
	}

	return token, nil
}

// ValidForConnection is the live proxy-connection predicate: status and
// expiry only. Consumption and the access cap restrict content fetches, not
// established proxy access, so they are deliberately not checked here.
func (s *TokenService) ValidForConnection(token *models.Token, now time.Time) bool {
	return token.Status == models.TokenStatusActive && !token.Expired(now)
}

// RecordAccess bumps the access counter and stamps the last-access fields.
// For an unconsumed one-time token the consumption flag flips in the same
// store update, so concurrent fetches can never both observe "not consumed"
// and a crash can never separate the two.
func (s *TokenService) RecordAccess(ctx context.Context, token *models.Token, clientIP, userAgent string) error {
	if clientIP == "" {
		clientIP = "unknown"
	}
	if userAgent == "" {
		userAgent = "unknown"
	}
	consume := token.OneTimeUse && !token.IsConsumed
	if err := s.tokens.RecordAccess(ctx, token.Secret, clientIP, userAgent, consume); err != nil {
		return err
	}
	if consume {
		log.Printf("🔒 One-time token consumed: %s...", token.ID)
	}
	return nil
}

// Regenerate mints an additional token inheriting the old one's policy and
// owner, with a fresh secret and a fresh expiry window. The old token stays
// valid: every token of a user draws on the same quota, so rotating a link
// must not strand clients still holding the previous one.
func (s *TokenService) Regenerate(ctx context.Context, oldSecret string) (*models.Token, error) {
	old, err := s.tokens.GetBySecret(ctx, oldSecret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	token, err := s.Create(ctx, CreateTokenOptions{
		Name:         old.Name,
		MaxAccess:    old.MaxAccess,
		OneTimeUse:   old.OneTimeUse,
		UserID:       old.UserID,
		AllowedIPs:   old.AllowedIPs,
		EnabledNodes: old.EnabledNodes,
		CreatedBy:    old.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🔄 Created replacement token %s... (old token %s... still valid)", token.ID, old.ID)
	return token, nil
}

// Get returns the token for a secret.
func (s *TokenService) Get(ctx context.Context, secret string) (*models.Token, error) {
	token, err := s.tokens.GetBySecret(ctx, secret)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return token, err
}

// List returns all tokens, newest first.
func (s *TokenService) List(ctx context.Context) ([]*models.Token, error) {
	return s.tokens.List(ctx)
}

// ListByUser returns a user's tokens, newest first.
func (s *TokenService) ListByUser(ctx context.Context, userID string) ([]*models.Token, error) {
	return s.tokens.ListByUser(ctx, userID)
}

// UpdateStatus enables or disables a token.
func (s *TokenService) UpdateStatus(ctx context.Context, secret, status string) error {
	if status != models.TokenStatusActive && status != models.TokenStatusDisabled {
		return ErrInvalidInput
	}
	err := s.tokens.Update(ctx, secret, models.TokenUpdate{Status: &status})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err == nil {
		log.Printf("📋 Updated subscription token status: %s -> %s", secret[:tokenIDLength], status)
	}
	return err
}

// Delete removes a token permanently.
func (s *TokenService) Delete(ctx context.Context, secret string) error {
	err := s.tokens.Delete(ctx, secret)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err == nil {
		log.Printf("🗑️ Deleted subscription token: %s", secret[:tokenIDLength])
	}
	return err
}

// DeleteByUser removes every token owned by the user (user-deletion cascade).
func (s *TokenService) DeleteByUser(ctx context.Context, userID string) error {
	return s.tokens.DeleteByUser(ctx, userID)
}

// Stats returns the aggregate token counters for the admin overview.
func (s *TokenService) Stats(ctx context.Context) (*models.TokenStats, error) {
	return s.tokens.Stats(ctx)
}

// freshSecret draws secrets until the 8-char ID prefix is unclaimed.
func (s *TokenService) freshSecret(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		secret, err := s.newSecret()
		if err != nil {
			return "", err
		}
		_, err = s.tokens.GetByID(ctx, secret[:tokenIDLength])
		if errors.Is(err, store.ErrNotFound) {
			return secret, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique token id", ErrUnavailable)
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
