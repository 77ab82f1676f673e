package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy constants. These are defaults; each can be overridden via env.
const (
	// DefaultMaxSubUsers caps how many sub-accounts one admin may own.
	DefaultMaxSubUsers = 20
	// DefaultTrafficLimit is 500 GiB per user.
	DefaultTrafficLimit = 500 * 1024 * 1024 * 1024
	// DefaultTotalTrafficLimit is 10 TiB across an admin's sub-accounts.
	DefaultTotalTrafficLimit = 10 * 1024 * 1024 * 1024 * 1024
	// DefaultTokenExpiryDays is the default subscription token lifetime.
	DefaultTokenExpiryDays = 30
	// DefaultSessionTTL is how long a login session stays cached.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSyncInterval is the traffic reconciliation period.
	DefaultSyncInterval = 60 * time.Second
)

// Node is one proxy endpoint advertised through subscription content.
type Node struct {
	ID      string
	Name    string
	Type    string // "hysteria2" or "vless"
	Enabled bool

	Server string
	Port   int

	// hysteria2
	Password string // global fallback password, superseded by per-user tokens
	SNI      string
	Insecure bool

	// vless (gRPC transport)
	UUID        string
	Encryption  string
	Security    string
	ALPN        string
	Fingerprint string
	Transport   string
	ServiceName string
	Mode        string
}

type Config struct {
	Port        string
	Host        string
	Environment string

	PostgresURI string
	RedisURI    string

	AllowedOrigins []string
	AdminAPIKeys   []string // accepted admin API keys, comma-separated in env
	PublicBaseURL  string   // external base URL for subscribe links, "" = derive from request

	// Auth gateway
	LegacySharedSecret string // operator-wide proxy password accepted as a fallback credential

	// Traffic reconciliation
	StatsURL     string
	StatsSecret  string
	SyncInterval time.Duration
	SyncClear    bool // reset-after-read on the stats pull
	SyncEnabled  bool

	// Account/token policy
	InitAdmin         bool
	MaxSubUsers       int
	DefaultTraffic    int64
	TotalTraffic      int64
	SessionTTL        time.Duration
	TokenExpiryDays   int
	MinPasswordLength int

	Nodes []Node
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Host:        getEnv("HOST", "0.0.0.0"),
		Environment: strings.ToLower(strings.TrimSpace(getEnv("ENV", "development"))),

		PostgresURI: getEnv("POSTGRES_URI", "postgres://localhost:5432/subpanel?sslmode=disable"),
		RedisURI:    getEnv("REDIS_URI", "redis://localhost:6379/0"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AdminAPIKeys:   splitList(getEnv("SUB_ADMIN_API_KEY", "")),
		PublicBaseURL:  strings.TrimRight(getEnv("SUB_PUBLIC_BASE_URL", ""), "/"),

		LegacySharedSecret: getEnv("SUB_HY2_PASSWORD", ""),

		StatsURL:     getEnv("HY2_STATS_URL", "http://127.0.0.1:9999"),
		StatsSecret:  getEnv("HY2_STATS_SECRET", ""),
		SyncInterval: getEnvDuration("TRAFFIC_SYNC_INTERVAL", DefaultSyncInterval),
		SyncClear:    getEnvBool("TRAFFIC_SYNC_CLEAR", true),
		SyncEnabled:  getEnvBool("TRAFFIC_SYNC_ENABLED", true),

		InitAdmin:         getEnvBool("SUB_INIT_ADMIN", true),
		MaxSubUsers:       getEnvInt("SUB_MAX_SUB_USERS", DefaultMaxSubUsers),
		DefaultTraffic:    getEnvInt64("SUB_DEFAULT_TRAFFIC_LIMIT", DefaultTrafficLimit),
		TotalTraffic:      getEnvInt64("SUB_TOTAL_TRAFFIC_LIMIT", DefaultTotalTrafficLimit),
		SessionTTL:        getEnvDuration("SUB_SESSION_TTL", DefaultSessionTTL),
		TokenExpiryDays:   getEnvInt("SUB_TOKEN_EXPIRY_DAYS", DefaultTokenExpiryDays),
		MinPasswordLength: getEnvInt("SUB_MIN_PASSWORD_LENGTH", 6),

		Nodes: loadNodes(),
	}
}

// loadNodes builds the advertised node list from env, mirroring the
// hysteria2 + vless-grpc pair the deployment ships with.
func loadNodes() []Node {
	return []Node{
		{
			ID:       "hysteria2",
			Name:     getEnv("SUB_HY2_NAME", "Hysteria2-Node"),
			Type:     "hysteria2",
			Enabled:  getEnvBool("SUB_HY2_ENABLED", true),
			Server:   getEnv("SUB_HY2_SERVER", "example.com"),
			Port:     getEnvInt("SUB_HY2_PORT", 443),
			Password: getEnv("SUB_HY2_PASSWORD", ""),
			SNI:      getEnv("SUB_HY2_SNI", "example.com"),
			Insecure: getEnvBool("SUB_HY2_INSECURE", false),
		},
		{
			ID:          "vless-grpc",
			Name:        getEnv("SUB_VLESS_NAME", "VLESS-gRPC-Node"),
			Type:        "vless",
			Enabled:     getEnvBool("SUB_VLESS_ENABLED", true),
			Server:      getEnv("SUB_VLESS_SERVER", "example.com"),
			Port:        getEnvInt("SUB_VLESS_PORT", 443),
			UUID:        getEnv("SUB_VLESS_UUID", "00000000-0000-0000-0000-000000000000"),
			Encryption:  "none",
			Security:    "tls",
			SNI:         getEnv("SUB_VLESS_SNI", "example.com"),
			ALPN:        getEnv("SUB_VLESS_ALPN", "h2"),
			Fingerprint: getEnv("SUB_VLESS_FP", "chrome"),
			Transport:   getEnv("SUB_VLESS_TYPE", "grpc"),
			ServiceName: getEnv("SUB_VLESS_SERVICE_NAME", "vless-grpc"),
			Mode:        getEnv("SUB_VLESS_MODE", "multi"),
		},
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") and bare second counts.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
