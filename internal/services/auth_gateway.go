package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

// AuthGateway answers the proxy runtime's connection-time credential checks.
// It never returns an error to the caller: any failure, including a store
// outage, is an authentication refusal.
type AuthGateway struct {
	users        store.UserStore
	tokens       store.TokenStore
	legacySecret string
	timeout      time.Duration
}

func NewAuthGateway(users store.UserStore, tokens store.TokenStore, legacySecret string) *AuthGateway {
	return &AuthGateway{
		users:        users,
		tokens:       tokens,
		legacySecret: legacySecret,
		timeout:      3 * time.Second,
	}
}

// Authenticate decides whether a proxy connection presenting credential may
// proceed, and under which traffic identity. A subscription token maps to its
// owner's user ID, or to a synthetic token-scoped identity when ownerless.
// The legacy shared password maps to the identity "default".
//
// Token consumption and the access cap restrict subscription content fetches
// only; a consumed one-time token still authenticates here as long as it is
// active and unexpired.
func (g *AuthGateway) Authenticate(ctx context.Context, addr, credential string) (bool, string) {
	if credential == "" {
		return false, ""
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.tokens.GetBySecret(ctx, credential)
	switch {
	case err == nil:
		return g.authenticateToken(ctx, addr, token)
	case errors.Is(err, store.ErrNotFound):
		// fall through to the legacy shared secret
	default:
		log.Printf("⚠️ Auth gateway lookup failed for %s: %v", addr, err)
		return false, ""
	}

	if g.legacySecret != "" &&
		subtle.ConstantTimeCompare([]byte(credential), []byte(g.legacySecret)) == 1 {
		return true, legacyIdentity
	}
	return false, ""
}

func (g *AuthGateway) authenticateToken(ctx context.Context, addr string, token *models.Token) (bool, string) {
	now := time.Now()
	if token.Status != models.TokenStatusActive || token.Expired(now) {
		return false, ""
	}

	if token.UserID == "" {
		return true, "token_" + token.ID
	}

	user, err := g.users.GetByID(ctx, token.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️ Auth gateway user lookup failed for %s: %v", addr, err)
		}
		return false, ""
	}
	if !user.IsActive || user.Expired(now) || !user.TrafficAvailable() {
		return false, ""
	}
	return true, user.ID
}
