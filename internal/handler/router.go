package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/melodia/internal/metrics"
	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/repository"
	"github.com/hitoshi/melodia/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector
	Resolver           middleware.SessionResolver
	Gateway            middleware.GatewayConfig
	Cookies            session.CookieConfig
	CSRF               middleware.CSRFConfig
	CORSAllowedOrigins []string
	AuthRateLimiter    *middleware.RateLimiter
	ContactRatePerMin  int
	TrustedProxies     []string // X-Forwarded-Forを信頼するプロキシ
	SecureHeaders      bool

	// 認証
	AuthService AuthServiceInterface

	// マイページ
	Feedback        repository.FeedbackRepository
	PracticeRecords repository.PracticeRecordRepository
	Assignments     repository.AssignmentRepository

	// 公開フォーム・コンテンツ
	Contacts ContactStore
	Blog     BlogSource

	// 運用
	Health         Pinger
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない
	Pages          http.Handler // APIに一致しないパスの配信先。nilの場合は404
}

// portalAPIPaths はCookie認証を使うAPIのパス。プリフライトの応答にも使う。
var portalAPIPaths = []string{
	"/api/feedback",
	"/api/feedback/reply",
	"/api/practice-records",
	"/api/assignments",
	"/api/assignments/{id}/status",
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全体に適用するミドルウェアの順序:
//
//	Recovery → Logging → SecurityHeaders → SessionGateway
//
// 認証API（/api/auth/*）は許容的なCORSとIP単位のレート制限を適用する。
// マイページAPIは CredentialedCORS → CSRF → RequireSession を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Gateway.Metrics == nil {
		deps.Gateway.Metrics = deps.Metrics
	}
	deps.Gateway.Cookies = deps.Cookies

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecureHeaders))
	r.Use(middleware.NewSessionGateway(deps.Resolver, deps.Gateway))

	authHandler := NewAuthHandler(deps.AuthService, deps.Resolver, deps.Cookies)
	feedbackHandler := NewFeedbackHandler(deps.Feedback)
	myPageHandler := NewMyPageHandler(deps.PracticeRecords, deps.Assignments)
	contactHandler := NewContactHandler(deps.Contacts)
	blogHandler := NewBlogHandler(deps.Blog)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証API ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NewAuthCORSMiddleware())

		limited := r.With()
		if deps.AuthRateLimiter != nil {
			limited = r.With(deps.AuthRateLimiter.Middleware())
		}
		limited.Post("/login", authHandler.Login)
		limited.Post("/register", authHandler.Register)

		r.Post("/logout", authHandler.Logout)
		r.Get("/session", authHandler.Session)
	})

	// --- 公開API ---
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
	r.With(middleware.NewContactRateLimit(deps.ContactRatePerMin, middleware.NewClientIPResolver(deps.TrustedProxies))).Post("/api/contact", contactHandler.Submit)
	r.Get("/api/blog-feed", blogHandler.Latest)

	// --- マイページAPI（ログイン必須） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCredentialedCORS(deps.CORSAllowedOrigins))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// プリフライトはセッション確認の前にCORSミドルウェアが応答する
		for _, p := range portalAPIPaths {
			r.Options(p, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSession(deps.Resolver, deps.Cookies))

			r.Post("/api/feedback", feedbackHandler.Submit)
			r.Put("/api/feedback", feedbackHandler.Request)
			r.Get("/api/feedback", feedbackHandler.Get)
			r.Post("/api/feedback/reply", feedbackHandler.Reply)

			r.Get("/api/practice-records", myPageHandler.ListPracticeRecords)
			r.Post("/api/practice-records", myPageHandler.CreatePracticeRecord)
			r.Get("/api/assignments", myPageHandler.ListAssignments)
			r.Put("/api/assignments/{id}/status", myPageHandler.UpdateAssignmentStatus)
		})
	})

	if deps.Pages != nil {
		r.NotFound(deps.Pages.ServeHTTP)
	}

	return r
}
