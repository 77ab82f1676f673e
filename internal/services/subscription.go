package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store"
	"github.com/hy2panel/subpanel-backend/pkg/utils"
)

// infoNodeAddr is a dead endpoint used to carry the quota banner entry that
// clients render as the first node name.
const infoNodeAddr = "00000000-0000-0000-0000-000000000000@127.0.0.1:1"

// SubscriptionService renders subscription content for a token.
type SubscriptionService struct {
	tokens *TokenService
	users  store.UserStore
	cfg    *config.Config
}

func NewSubscriptionService(tokens *TokenService, users store.UserStore, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{tokens: tokens, users: users, cfg: cfg}
}

// Content is a rendered subscription document plus the quota numbers that go
// into the Subscription-Userinfo header.
type Content struct {
	Body      string // base64 of the newline-joined link list
	NodeCount int
	UserID    string

	Upload   int64
	Download int64
	Total    int64
	Expire   time.Time
}

// Generate validates the token, records the access (consuming a one-time
// token), and renders the node list for it. The quota banner and the header
// numbers come from the owning user, or sensible defaults for an ownerless
// token.
func (s *SubscriptionService) Generate(ctx context.Context, secret, clientIP, userAgent string) (*Content, error) {
	token, err := s.tokens.Validate(ctx, secret, clientIP)
	if err != nil {
		return nil, err
	}

	trafficLimit := int64(config.DefaultTrafficLimit)
	trafficUsed := int64(0)
	expire := time.Now().Add(30 * 24 * time.Hour)
	if token.ExpiresAt != nil {
		expire = *token.ExpiresAt
	}

	if token.UserID != "" {
		user, err := s.users.GetByID(ctx, token.UserID)
		if err != nil {
			// A token pointing at a deleted user is a dangling credential,
			// not a store outage.
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		trafficLimit = user.TrafficLimit
		trafficUsed = user.TrafficUsed
		if user.ExpiresAt != nil {
			expire = *user.ExpiresAt
		}
	}

	if err := s.tokens.RecordAccess(ctx, token, clientIP, userAgent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	lines := []string{s.infoLine(trafficUsed, trafficLimit, expire)}
	nodeCount := 0
	for _, node := range s.cfg.Nodes {
		if !node.Enabled || !token.NodeEnabled(node.ID) {
			continue
		}
		link := s.nodeLink(node, token)
		if link == "" {
			continue
		}
		lines = append(lines, link)
		nodeCount++
	}

	return &Content{
		Body:      base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n"))),
		NodeCount: nodeCount,
		UserID:    token.UserID,
		Upload:    0,
		Download:  trafficUsed,
		Total:     trafficLimit,
		Expire:    expire,
	}, nil
}

// Nodes returns the advertised node list (admin view).
func (s *SubscriptionService) Nodes() []config.Node {
	return s.cfg.Nodes
}

// NodeInfo is one node as shown to a logged-in user: its metadata plus the
// ready-to-import link rendered for that user's token.
type NodeInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Server  string `json:"server"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
	Link    string `json:"link"`
}

// NodeList renders the per-user node view for a token: only nodes that are
// enabled both globally and for the token, each with its connection link.
func (s *SubscriptionService) NodeList(token *models.Token) []NodeInfo {
	var out []NodeInfo
	for _, node := range s.cfg.Nodes {
		if !node.Enabled || !token.NodeEnabled(node.ID) {
			continue
		}
		link := s.nodeLink(node, token)
		if link == "" {
			continue
		}
		out = append(out, NodeInfo{
			ID:      node.ID,
			Name:    node.Name,
			Type:    node.Type,
			Server:  node.Server,
			Port:    node.Port,
			Enabled: node.Enabled,
			Link:    link,
		})
	}
	return out
}

// infoLine builds the dummy first entry whose name shows remaining quota and
// expiry in the client's node list.
func (s *SubscriptionService) infoLine(used, limit int64, expire time.Time) string {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	name := fmt.Sprintf("📊 %s/%s | %s 到期",
		utils.FormatBytes(remaining),
		utils.FormatBytes(limit),
		expire.Format("2006-01-02"))
	return fmt.Sprintf("vless://%s?encryption=none&type=tcp#%s", infoNodeAddr, url.PathEscape(name))
}

func (s *SubscriptionService) nodeLink(node config.Node, token *models.Token) string {
	switch node.Type {
	case "hysteria2":
		return hysteria2Link(node, token.Secret)
	case "vless":
		return vlessLink(node)
	default:
		return ""
	}
}

// hysteria2Link uses the subscription token as the per-user proxy password,
// which is what ties proxy connections back to the token's owner.
func hysteria2Link(node config.Node, password string) string {
	insecure := "0"
	if node.Insecure {
		insecure = "1"
	}
	q := url.Values{}
	q.Set("insecure", insecure)
	if node.SNI != "" {
		q.Set("sni", node.SNI)
	}
	return fmt.Sprintf("hysteria2://%s@%s:%d/?%s#%s",
		url.PathEscape(password), node.Server, node.Port, q.Encode(), url.PathEscape(node.Name))
}

func vlessLink(node config.Node) string {
	q := url.Values{}
	q.Set("encryption", node.Encryption)
	q.Set("security", node.Security)
	if node.SNI != "" {
		q.Set("sni", node.SNI)
	}
	if node.ALPN != "" {
		q.Set("alpn", node.ALPN)
	}
	if node.Fingerprint != "" {
		q.Set("fp", node.Fingerprint)
	}
	q.Set("type", node.Transport)
	if node.ServiceName != "" {
		q.Set("serviceName", node.ServiceName)
	}
	if node.Mode != "" {
		q.Set("mode", node.Mode)
	}
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		node.UUID, node.Server, node.Port, q.Encode(), url.PathEscape(node.Name))
}
