package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"github.com/hitoshi/melodia/internal/model"
)

// RateLimiterConfig はIPごとのレート制限の設定を保持する。
type RateLimiterConfig struct {
	PerMinute       int           // 1分あたりの許容リクエスト数
	RetryAfter      int           // 制限時にクライアントへ推奨する待機秒数
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	TrustedProxies  []string      // X-Forwarded-Forを信頼するプロキシのIPまたはCIDR
}

// DefaultRateLimiterConfig はログイン・会員登録向けの既定設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute:       20,
		RetryAfter:      60,
		CleanupInterval: 5 * time.Minute,
	}
}

// ipLimiter はIPごとのレートリミッターとアクセス時刻を保持する。
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 認証APIへの総当たりを防ぐため、認証バックエンドの呼び出し前に適用する。
type RateLimiter struct {
	config RateLimiterConfig
	ips    *ClientIPResolver

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stopCh chan struct{}
	once   sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = DefaultRateLimiterConfig().PerMinute
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = DefaultRateLimiterConfig().RetryAfter
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}

	rl := &RateLimiter{
		config:   config,
		ips:      NewClientIPResolver(config.TrustedProxies),
		limiters: make(map[string]*ipLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Middleware はIPごとのレート制限ミドルウェアを返す。
// 制限超過時は429を返し、Retry-AfterヘッダーとボディのretryAfterを同じ値にする。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := rl.ips.ClientIP(r)
			if !rl.limiterFor(ip).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				WriteAuthError(w, &model.AuthError{
					HTTPStatus:        http.StatusTooManyRequests,
					Code:              model.AuthCodeRateLimited,
					Message:           "リクエストが多すぎます。しばらく待ってから再度お試しください",
					RetryAfterSeconds: rl.config.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[ip]; ok {
		l.lastAccess = time.Now()
		return l.limiter
	}

	l := &ipLimiter{
		limiter:    rate.NewLimiter(rate.Limit(float64(rl.config.PerMinute)/60.0), rl.config.PerMinute),
		lastAccess: time.Now(),
	}
	rl.limiters[ip] = l
	return l.limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.limiters {
		if now.Sub(l.lastAccess) > ttl {
			delete(rl.limiters, ip)
		}
	}
}

// NewContactRateLimit はお問い合わせフォーム用のIPレート制限を返す。
func NewContactRateLimit(perMinute int, ips *ClientIPResolver) func(next http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 5
	}
	if ips == nil {
		ips = NewClientIPResolver(nil)
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			slog.Warn("contact rate limit exceeded", slog.String("ip", ips.ClientIP(r)))
			w.Header().Set("Retry-After", strconv.Itoa(60))
			WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   "送信回数が多すぎます。しばらく待ってから再度お試しください",
			})
		}),
	)
}

// ClientIPResolver はレート制限のキーとなるクライアントIPを決定する。
// 転送ヘッダーは接続元が信頼済みプロキシの場合にのみ参照する。
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver は信頼するプロキシのIPまたはCIDRの一覧からResolverを生成する。
// 解釈できない値は警告を出して無視する。
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	res := &ClientIPResolver{}
	for _, p := range trustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			if ip := net.ParseIP(p); ip != nil && ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy", slog.String("value", p))
			continue
		}
		res.trusted = append(res.trusted, n)
	}
	return res
}

// ClientIP はリクエスト元のIPアドレスを返す。
// 接続元が信頼済みプロキシでなければRemoteAddrを使う。
// 信頼済みの場合はX-Forwarded-Forを右から辿り、最初の信頼済みでないIPを採用する。
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	remote := remoteHost(r.RemoteAddr)
	if !c.isTrusted(remote) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			continue
		}
		if !c.isTrusted(hop) {
			return hop
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return remote
}

func (c *ClientIPResolver) isTrusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
