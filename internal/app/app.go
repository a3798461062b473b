package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/melodia/internal/auth"
	"github.com/hitoshi/melodia/internal/blog"
	"github.com/hitoshi/melodia/internal/config"
	"github.com/hitoshi/melodia/internal/database"
	"github.com/hitoshi/melodia/internal/handler"
	"github.com/hitoshi/melodia/internal/logger"
	"github.com/hitoshi/melodia/internal/metrics"
	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/repository"
	"github.com/hitoshi/melodia/internal/security"
	"github.com/hitoshi/melodia/internal/session"
	"github.com/hitoshi/melodia/internal/supabase"
	"github.com/hitoshi/melodia/internal/worker/cleanup"
)

// cleanupInterval はお問い合わせクリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level.Set(logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(registry)

	// 3. 認証バックエンド
	backend := supabase.NewClient(
		&http.Client{Timeout: cfg.BackendTimeout},
		slog.Default(),
		supabase.Config{
			URL:        cfg.SupabaseURL,
			AnonKey:    cfg.SupabaseAnonKey,
			ServiceKey: cfg.SupabaseServiceKey,
		},
	)
	if cfg.SupabaseJWTSecret == "" {
		slog.Warn("SUPABASE_JWT_SECRET is not set; access tokens will be verified by the auth backend")
	}
	resolver := session.NewResolver(backend, cfg.SupabaseJWTSecret)
	authService := auth.NewService(backend, mc)

	// 4. ブログ（外部RSSはSSRF対策済みクライアントで取得する）
	blogService := blog.NewService(
		security.NewOutboundGuard().NewClient(cfg.BackendTimeout),
		blog.Config{FeedURL: cfg.BlogFeedURL, CacheTTL: cfg.BlogCacheTTL},
		mc,
	)

	// 5. ルーターの構築
	gateway := middleware.DefaultGatewayConfig()
	gateway.FailClosed = cfg.GatewayFailClosed

	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.PerMinute = cfg.AuthRateLimitPerMin
	rateLimiterCfg.TrustedProxies = cfg.TrustedProxyList()
	authLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer authLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:   slog.Default(),
		Metrics:  mc,
		Resolver: resolver,
		Gateway:  gateway,
		Cookies: session.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigins: cfg.AllowedOrigins(),
		AuthRateLimiter:    authLimiter,
		ContactRatePerMin:  cfg.ContactRateLimitPerMin,
		TrustedProxies:     cfg.TrustedProxyList(),
		SecureHeaders:      cfg.CookieSecure,

		AuthService: authService,

		Feedback:        repository.NewPostgresFeedbackRepo(db),
		PracticeRecords: repository.NewPostgresPracticeRecordRepo(db),
		Assignments:     repository.NewPostgresAssignmentRepo(db),

		Contacts: repository.NewPostgresContactRepo(db),
		Blog:     blogService,

		Health:         db,
		MetricsHandler: metrics.Handler(registry),
	}
	if cfg.PagesDir != "" {
		deps.Pages = http.FileServer(http.Dir(cfg.PagesDir))
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("gateway_fail_closed", gateway.FailClosed),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、お問い合わせのクリーンアップを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(repository.NewPostgresContactRepo(db), slog.Default(), nil)
	job.RetentionDays = cfg.ContactRetentionDays

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Int("retention_days", cfg.ContactRetentionDays),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを適用し、downは1つ戻す。
func runMigrate(cfg *config.Config, dir MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("direction", string(dir)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var err error
	if dir == MigrateDown {
		err = database.RollbackMigration(cfg.DatabaseURL)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
