package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store/storefakes"
)

func newTokenService() (*TokenService, *storefakes.FakeTokenStore) {
	tokens := storefakes.NewFakeTokenStore()
	cfg := &config.Config{TokenExpiryDays: 30}
	return NewTokenService(tokens, cfg), tokens
}

func TestCreateTokenDefaults(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)

	require.Len(t, token.Secret, 64)
	require.Equal(t, token.Secret[:8], token.ID)
	require.Equal(t, models.TokenStatusActive, token.Status)
	require.Equal(t, "subscription", token.Name)
	require.Equal(t, "admin", token.CreatedBy)
	require.False(t, token.OneTimeUse)
	require.False(t, token.IsConsumed)

	require.NotNil(t, token.ExpiresAt)
	expectedExpiry := time.Now().Add(30 * 24 * time.Hour)
	require.WithinDuration(t, expectedExpiry, *token.ExpiresAt, time.Minute)
}

func TestCreateTokenSecretsAreUnique(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		token, err := svc.Create(ctx, CreateTokenOptions{})
		require.NoError(t, err)
		require.False(t, seen[token.Secret])
		seen[token.Secret] = true
	}
}

func TestValidateUnknownToken(t *testing.T) {
	svc, _ := newTokenService()
	_, err := svc.Validate(context.Background(), "deadbeef", "1.2.3.4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateDisabledToken(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateStatus(ctx, token.Secret, models.TokenStatusDisabled))

	_, err = svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestValidateExpiredToken(t *testing.T) {
	svc, tokens := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, tokens.Update(ctx, token.Secret, models.TokenUpdate{ExpiresAt: &past}))

	_, err = svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateConsumedOneTimeToken(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{OneTimeUse: true})
	require.NoError(t, err)

	got, err := svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.NoError(t, err)
	require.NoError(t, svc.RecordAccess(ctx, got, "1.2.3.4", "test-agent"))

	_, err = svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestValidateMaxAccessExhausted(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{MaxAccess: 1})
	require.NoError(t, err)

	got, err := svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.NoError(t, err)
	require.NoError(t, svc.RecordAccess(ctx, got, "1.2.3.4", "agent"))

	_, err = svc.Validate(ctx, token.Secret, "1.2.3.4")
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestValidateIPAllowList(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{AllowedIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token.Secret, "10.0.0.2")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Validate(ctx, token.Secret, "10.0.0.1")
	require.NoError(t, err)
}

func TestRecordAccessStampsFields(t *testing.T) {
	svc, tokens := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.RecordAccess(ctx, token, "9.9.9.9", "clash-meta"))

	got, err := tokens.GetBySecret(ctx, token.Secret)
	require.NoError(t, err)
	require.Equal(t, 1, got.AccessCount)
	require.Equal(t, "9.9.9.9", got.LastAccessIP)
	require.Equal(t, "clash-meta", got.LastUserAgent)
	require.NotNil(t, got.LastAccessAt)
	require.False(t, got.IsConsumed)
}

func TestValidForConnectionIgnoresConsumption(t *testing.T) {
	svc, tokens := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{OneTimeUse: true, MaxAccess: 1})
	require.NoError(t, err)
	require.NoError(t, svc.RecordAccess(ctx, token, "1.1.1.1", "agent"))

	got, err := tokens.GetBySecret(ctx, token.Secret)
	require.NoError(t, err)
	require.True(t, got.IsConsumed)
	require.True(t, svc.ValidForConnection(got, time.Now()))

	disabled := models.TokenStatusDisabled
	require.NoError(t, tokens.Update(ctx, token.Secret, models.TokenUpdate{Status: &disabled}))
	got, err = tokens.GetBySecret(ctx, token.Secret)
	require.NoError(t, err)
	require.False(t, svc.ValidForConnection(got, time.Now()))
}

func TestRegenerateKeepsOldTokenValid(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	old, err := svc.Create(ctx, CreateTokenOptions{
		Name:         "shared",
		MaxAccess:    5,
		UserID:       "user-1",
		AllowedIPs:   []string{"10.0.0.1"},
		EnabledNodes: []string{"hysteria2"},
	})
	require.NoError(t, err)

	fresh, err := svc.Regenerate(ctx, old.Secret)
	require.NoError(t, err)
	require.NotEqual(t, old.Secret, fresh.Secret)
	require.Equal(t, old.Name, fresh.Name)
	require.Equal(t, old.MaxAccess, fresh.MaxAccess)
	require.Equal(t, old.UserID, fresh.UserID)
	require.Equal(t, old.AllowedIPs, fresh.AllowedIPs)
	require.Equal(t, old.EnabledNodes, fresh.EnabledNodes)

	// The old token must remain usable after rotation.
	_, err = svc.Validate(ctx, old.Secret, "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.Validate(ctx, fresh.Secret, "10.0.0.1")
	require.NoError(t, err)
}

func TestCreateRetriesOnIDPrefixCollision(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	existing, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)

	// Same 8-char prefix as the existing token, different secret.
	colliding := existing.Secret[:8] + strings.Repeat("f", 56)
	unique := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	secrets := []string{colliding, unique}
	svc.newSecret = func() (string, error) {
		s := secrets[0]
		secrets = secrets[1:]
		return s, nil
	}

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)
	require.Equal(t, unique, token.Secret)
	require.Equal(t, unique[:8], token.ID)
	require.NotEqual(t, existing.ID, token.ID)
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	token, err := svc.Create(ctx, CreateTokenOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, svc.UpdateStatus(ctx, token.Secret, "paused"), ErrInvalidInput)
}

func TestDeleteByUserRemovesAllTokens(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateTokenOptions{UserID: "user-1"})
		require.NoError(t, err)
	}
	keep, err := svc.Create(ctx, CreateTokenOptions{UserID: "user-2"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByUser(ctx, "user-1"))

	gone, err := svc.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, gone)

	_, err = svc.Get(ctx, keep.Secret)
	require.NoError(t, err)
}
