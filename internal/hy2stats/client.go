// Package hy2stats pulls per-identity traffic counters from a Hysteria2
// traffic stats endpoint.
package hy2stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single stats request so a stalled runtime can only
// delay one reconciliation cycle, never block it.
const DefaultTimeout = 5 * time.Second

// Traffic is one identity's counters. tx is bytes the client uploaded,
// rx is bytes the client downloaded.
type Traffic struct {
	TX int64 `json:"tx"`
	RX int64 `json:"rx"`
}

type Client struct {
	candidates []string
	secret     string
	httpClient *http.Client
}

// NewClient builds a client for the given stats endpoint. When the endpoint
// points at localhost, host.docker.internal is tried as a fallback so the
// panel keeps working from inside a container.
func NewClient(apiURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		candidates: endpointCandidates(apiURL),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the identity -> counters mapping. clear=true asks the
// runtime to reset its counters on read, making each successful fetch an
// incremental delta; clear=false reads cumulative values.
func (c *Client) Fetch(ctx context.Context, clear bool) (map[string]Traffic, error) {
	var lastErr error
	for _, base := range c.candidates {
		requestURL := fmt.Sprintf("%s/traffic?clear=%t", base, clear)
		stats, err := c.fetchOne(ctx, requestURL)
		if err == nil {
			return stats, nil
		}
		lastErr = fmt.Errorf("%s: %w", requestURL, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no stats endpoint configured")
	}
	return nil, lastErr
}

func (c *Client) fetchOne(ctx context.Context, requestURL string) (map[string]Traffic, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var stats map[string]Traffic
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func endpointCandidates(apiURL string) []string {
	normalized := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if normalized == "" {
		return nil
	}
	candidates := []string{normalized}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return candidates
	}
	host := parsed.Hostname()
	if host == "127.0.0.1" || host == "localhost" {
		fallback := *parsed
		if port := parsed.Port(); port != "" {
			fallback.Host = "host.docker.internal:" + port
		} else {
			fallback.Host = "host.docker.internal"
		}
		candidates = append(candidates, strings.TrimRight(fallback.String(), "/"))
	}
	return candidates
}
