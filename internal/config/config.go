// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string // 空の場合はアクセストークンをバックエンドで検証する
	BackendTimeout     time.Duration

	// Session
	SessionMaxAge     int
	GatewayFailClosed bool

	// Rate Limit
	AuthRateLimitPerMin    int
	ContactRateLimitPerMin int
	TrustedProxies         string // カンマ区切りのIPまたはCIDR。空の場合は転送ヘッダーを使わない

	// Blog
	BlogFeedURL  string
	BlogCacheTTL time.Duration

	// Cleanup
	ContactRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string // カンマ区切りで複数指定可

	// Pages
	PagesDir string // 空の場合はAPIのみを配信する
}

// DefaultBlogFeedURL は教室ブログのRSS。
const DefaultBlogFeedURL = "https://ameblo.jp/yamayumiji/rss.html"

// requiredKeys は未設定の場合に起動を中止する環境変数。
var requiredKeys = []string{
	"DATABASE_URL",
	"SUPABASE_URL",
	"SUPABASE_ANON_KEY",
	"SUPABASE_SERVICE_ROLE_KEY",
	"BASE_URL",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(k.String(strings.ToLower(key))) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:        k.String("database_url"),
		SupabaseURL:        k.String("supabase_url"),
		SupabaseAnonKey:    k.String("supabase_anon_key"),
		SupabaseServiceKey: k.String("supabase_service_role_key"),
		SupabaseJWTSecret:  k.String("supabase_jwt_secret"),
		BaseURL:            k.String("base_url"),
	}

	// Optional fields with defaults
	cfg.BackendTimeout = getDuration(k, "backend_timeout", 10*time.Second)
	cfg.SessionMaxAge = getInt(k, "session_max_age", 604800)
	cfg.GatewayFailClosed = getBool(k, "auth_gateway_fail_closed", false)
	cfg.AuthRateLimitPerMin = getInt(k, "auth_rate_limit_per_min", 20)
	cfg.ContactRateLimitPerMin = getInt(k, "contact_rate_limit_per_min", 5)
	cfg.TrustedProxies = getString(k, "trusted_proxies", "")
	cfg.BlogFeedURL = getString(k, "blog_feed_url", DefaultBlogFeedURL)
	cfg.BlogCacheTTL = getDuration(k, "blog_cache_ttl", 10*time.Minute)
	cfg.ContactRetentionDays = getInt(k, "contact_retention_days", 365)
	cfg.LogLevel = getString(k, "log_level", "info")
	cfg.ServerPort = getString(k, "server_port", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getString(k, "cookie_domain", "")
	cfg.CORSAllowedOrigin = getString(k, "cors_allowed_origin", "http://localhost:3000")
	cfg.PagesDir = getString(k, "pages_dir", "")

	return cfg, nil
}

// AllowedOrigins はCORS_ALLOWED_ORIGINをカンマで分割したオリジンの一覧を返す。
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigin, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TrustedProxyList はTRUSTED_PROXIESをカンマで分割した一覧を返す。
func (c *Config) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getString(k *koanf.Koanf, key, defaultVal string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(k *koanf.Koanf, key string, defaultVal int) int {
	v := k.String(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getBool(k *koanf.Koanf, key string, defaultVal bool) bool {
	v := k.String(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getDuration(k *koanf.Koanf, key string, defaultVal time.Duration) time.Duration {
	v := k.String(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
