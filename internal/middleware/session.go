// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/melodia/internal/metrics"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey     = contextKey("user_id")
	sessionContextKey    = contextKey("session")
	userIDSinkContextKey = contextKey("user_id_sink")
)

// SessionResolver はリクエストからセッションを解決するインターフェース。
// *session.Resolver が実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*session.Resolution, error)
}

// GatewayConfig はセッションゲートウェイの設定。
type GatewayConfig struct {
	ProtectedPrefixes []string // 認証が必要なパスのプレフィックス
	SkipPrefixes      []string // ゲートウェイを通さないパス（静的アセット等）
	LoginPath         string
	FailClosed        bool // バックエンド障害時にログインへリダイレクトする
	Cookies           session.CookieConfig
	Metrics           metrics.MetricsCollector
}

// DefaultGatewayConfig は既定のゲートウェイ設定を返す。
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ProtectedPrefixes: []string{"/mypage", "/admin"},
		SkipPrefixes: []string{
			"/_next/static",
			"/_next/image",
			"/favicon.ico",
			"/images",
			"/icons",
			"/static",
			"/api/auth/callback",
		},
		LoginPath: "/auth/login",
	}
}

// NewSessionGateway は保護パスへのリクエストでセッションを確認するミドルウェアを返す。
// 保護パス以外は何もせずに通過させる（バックエンドも呼び出さない）。
// 未ログインの場合はredirectToに元のパスを付けてログインページへリダイレクトする。
// バックエンド障害時は既定で通過させる（FailClosedの場合はリダイレクト）。
func NewSessionGateway(resolver SessionResolver, cfg GatewayConfig) func(next http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if hasAnyPrefix(p, cfg.SkipPrefixes) || !hasAnyPrefix(p, cfg.ProtectedPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				slog.Error("session gateway: auth backend error",
					slog.String("path", p),
					slog.Bool("fail_closed", cfg.FailClosed),
					slog.String("error", err.Error()),
				)
				if cfg.FailClosed {
					cfg.Metrics.RecordGatewayDecision(metrics.DecisionFailClosed)
					redirectToLogin(w, r, cfg.LoginPath)
					return
				}
				cfg.Metrics.RecordGatewayDecision(metrics.DecisionFailOpen)
				next.ServeHTTP(w, r)
				return
			}

			if res.Session == nil {
				cfg.Metrics.RecordGatewayDecision(metrics.DecisionRedirect)
				redirectToLogin(w, r, cfg.LoginPath)
				return
			}

			if res.Refreshed {
				session.WriteCookies(w, res.Session, cfg.Cookies)
				cfg.Metrics.RecordGatewayDecision(metrics.DecisionRefreshed)
			} else {
				cfg.Metrics.RecordGatewayDecision(metrics.DecisionPass)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), res.Session)))
		})
	}
}

// NewRequireSession はAPIルート用のセッション必須ミドルウェアを返す。
// 未ログインの場合は401、バックエンド障害時は503を返す。
func NewRequireSession(resolver SessionResolver, cookies session.CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteMessageError(w, http.StatusServiceUnavailable, "認証サービスが一時的に利用できません")
				return
			}
			if res.Session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if res.Refreshed {
				session.WriteCookies(w, res.Session, cookies)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), res.Session)))
		})
	}
}

// redirectToLogin はログインページへ307でリダイレクトする。
func redirectToLogin(w http.ResponseWriter, r *http.Request, loginPath string) {
	// クエリ値の"/"はエスケープ不要のため、そのまま残す
	redirectTo := strings.ReplaceAll(url.QueryEscape(r.URL.Path), "%2F", "/")
	http.Redirect(w, r, loginPath+"?redirectTo="+redirectTo, http.StatusTemporaryRedirect)
}

// hasAnyPrefix はパスがいずれかのプレフィックスにセグメント単位で一致するかを返す。
// "/mypage" は "/mypage" と "/mypage/..." に一致し、"/mypages" には一致しない。
func hasAnyPrefix(p string, prefixes []string) bool {
	p = path.Clean("/" + p)
	for _, prefix := range prefixes {
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// ContextWithSession はコンテキストにセッションとユーザーIDを注入する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, s)
	return ContextWithUserID(ctx, s.UserID)
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションを確認したミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if sink, ok := ctx.Value(userIDSinkContextKey).(*string); ok {
		*sink = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// withUserIDSink は下流で確定したユーザーIDを受け取る格納先をコンテキストに設定する。
// リクエストログ出力で使用する。
func withUserIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, userIDSinkContextKey, sink)
}
