package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/services"
	"github.com/hy2panel/subpanel-backend/internal/store/storefakes"
)

type handlerFixture struct {
	handler *Handler
	router  *chi.Mux
	users   *storefakes.FakeUserStore
	usage   *storefakes.FakeUsageStore
	tokenSv *services.TokenService
	userSv  *services.UserService
}

func newHandlerFixture() *handlerFixture {
	users := storefakes.NewFakeUserStore()
	tokens := storefakes.NewFakeTokenStore()
	sessions := storefakes.NewFakeSessionStore()
	usage := storefakes.NewFakeUsageStore()
	cfg := &config.Config{
		TokenExpiryDays:   30,
		MaxSubUsers:       config.DefaultMaxSubUsers,
		DefaultTraffic:    config.DefaultTrafficLimit,
		TotalTraffic:      config.DefaultTotalTrafficLimit,
		SessionTTL:        config.DefaultSessionTTL,
		MinPasswordLength: 6,
		PublicBaseURL:     "https://panel.example.com",
		Nodes: []config.Node{
			{
				ID: "hysteria2", Name: "HY2", Type: "hysteria2", Enabled: true,
				Server: "proxy.example.com", Port: 443, SNI: "proxy.example.com",
			},
		},
	}

	tokenSv := services.NewTokenService(tokens, cfg)
	userSv := services.NewUserService(users, sessions, tokenSv, cfg)
	subSv := services.NewSubscriptionService(tokenSv, users, cfg)
	gateway := services.NewAuthGateway(users, tokens, "legacy-secret")

	h := New(cfg, userSv, tokenSv, subSv, usage, nil, gateway)

	r := chi.NewRouter()
	r.Get("/sub/{token}", h.Subscription)
	r.Post("/sub/auth/hysteria", h.HysteriaAuth)
	r.Post("/sub/auth/login", h.Login)
	r.Get("/sub/auth/verify", h.RequireUser(h.Verify))
	r.Get("/sub/auth/traffic", h.RequireUser(h.TrafficHistory))
	r.Get("/sub/auth/nodes", h.RequireUser(h.UserNodes))
	r.Get("/sub/auth/admin-stats", h.RequireTopAdmin(h.AdminStats))

	return &handlerFixture{handler: h, router: r, users: users, usage: usage, tokenSv: tokenSv, userSv: userSv}
}

func TestSubscriptionEndpointHeaders(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, f.users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true,
		TrafficLimit: 1000, TrafficUsed: 400,
	}))
	token, err := f.tokenSv.Create(ctx, services.CreateTokenOptions{UserID: "user-1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sub/"+token.Secret, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, rec.Header().Get("Content-Disposition"), "subscription.txt")
	require.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")

	userinfo := rec.Header().Get("Subscription-Userinfo")
	require.Contains(t, userinfo, "upload=0")
	require.Contains(t, userinfo, "download=400")
	require.Contains(t, userinfo, "total=1000")
	require.Contains(t, userinfo, fmt.Sprintf("expire=%d", token.ExpiresAt.Unix()))
}

func TestSubscriptionEndpointRejectsShortSecret(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/sub/tooshort", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionEndpointUnknownToken(t *testing.T) {
	f := newHandlerFixture()

	secret := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/sub/"+secret, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHysteriaAuthAlwaysAnswers200(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, f.users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 1000,
	}))
	token, err := f.tokenSv.Create(ctx, services.CreateTokenOptions{UserID: "user-1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		wantOK bool
		wantID string
	}{
		{"valid token", fmt.Sprintf(`{"addr":"1.2.3.4:5000","auth":"%s","tx":0}`, token.Secret), true, "user-1"},
		{"legacy secret", `{"addr":"1.2.3.4:5000","auth":"legacy-secret","tx":0}`, true, "default"},
		{"unknown credential", `{"addr":"1.2.3.4:5000","auth":"nope","tx":0}`, false, ""},
		{"malformed body", `{not json`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sub/auth/hysteria", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				OK bool   `json:"ok"`
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tt.wantOK, resp.OK)
			require.Equal(t, tt.wantID, resp.ID)
		})
	}
}

func TestLoginAndVerifyFlow(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	_, err := f.userSv.CreateUser(ctx, "alice", "secret123", services.CreateUserOptions{})
	require.NoError(t, err)

	body := `{"username":"alice","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/sub/auth/login", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var loginResp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)

	req = httptest.NewRequest(http.MethodGet, "/sub/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginWrongPasswordIsUniform401(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	_, err := f.userSv.CreateUser(ctx, "alice", "secret123", services.CreateUserOptions{})
	require.NoError(t, err)

	for _, body := range []string{
		`{"username":"alice","password":"wrong"}`,
		`{"username":"nobody","password":"secret123"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/sub/auth/login", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid username or password")
	}
}

func TestTrafficHistoryEndpoint(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	user, err := f.userSv.CreateUser(ctx, "alice", "secret123", services.CreateUserOptions{})
	require.NoError(t, err)

	day := time.Now().Truncate(24 * time.Hour)
	require.NoError(t, f.usage.Record(ctx, user.ID, day, 100, 200))
	require.NoError(t, f.usage.Record(ctx, user.ID, day.AddDate(0, 0, -1), 40, 60))

	session, _, err := f.userSv.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sub/auth/traffic", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Today   struct {
			UploadBytes   int64 `json:"upload_bytes"`
			DownloadBytes int64 `json:"download_bytes"`
		} `json:"today"`
		Totals struct {
			UploadBytes   int64 `json:"upload_bytes"`
			DownloadBytes int64 `json:"download_bytes"`
		} `json:"totals"`
		Traffic json.RawMessage `json:"traffic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, int64(100), resp.Today.UploadBytes)
	require.Equal(t, int64(200), resp.Today.DownloadBytes)
	require.Equal(t, int64(140), resp.Totals.UploadBytes)
	require.Equal(t, int64(260), resp.Totals.DownloadBytes)
	require.NotEmpty(t, resp.Traffic)

	// No session at all yields the uniform 404.
	req = httptest.NewRequest(http.MethodGet, "/sub/auth/traffic", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserNodesEndpoint(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	created, err := f.userSv.CreateUser(ctx, "alice", "secret123", services.CreateUserOptions{})
	require.NoError(t, err)
	session, _, err := f.userSv.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sub/auth/nodes", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Nodes   []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
			Link string `json:"link"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Nodes, 1)
	require.Equal(t, "hysteria2", resp.Nodes[0].ID)

	// The rendered link carries the account's minted subscription token.
	user, err := f.users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, user.SubscriptionToken)
	require.Contains(t, resp.Nodes[0].Link, user.SubscriptionToken)
}

func TestAdminStatsRequiresTopLevelAdmin(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	admin, err := f.userSv.CreateUser(ctx, "root", "secret123", services.CreateUserOptions{Role: models.RoleAdmin})
	require.NoError(t, err)
	_, err = f.userSv.CreateSubUser(ctx, admin.ID, "subuser", "secret123", services.CreateUserOptions{})
	require.NoError(t, err)

	adminSession, _, err := f.userSv.Login(ctx, "root", "secret123")
	require.NoError(t, err)
	subSession, _, err := f.userSv.Login(ctx, "subuser", "secret123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sub/auth/admin-stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminSession)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sub/auth/admin-stats", nil)
	req.Header.Set("Authorization", "Bearer "+subSession)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sub/auth/admin-stats", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
