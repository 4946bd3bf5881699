// Package app は設定の読み込み、依存関係のワイヤリング、各起動モードの実行を行う。
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mermaidboard/internal/audit"
	"github.com/hitoshi/mermaidboard/internal/auth"
	"github.com/hitoshi/mermaidboard/internal/config"
	"github.com/hitoshi/mermaidboard/internal/database"
	"github.com/hitoshi/mermaidboard/internal/diagram"
	"github.com/hitoshi/mermaidboard/internal/handler"
	"github.com/hitoshi/mermaidboard/internal/logger"
	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/middleware"
	"github.com/hitoshi/mermaidboard/internal/repository"
	"github.com/hitoshi/mermaidboard/internal/user"
	"github.com/hitoshi/mermaidboard/internal/worker/cleanup"
)

const (
	shutdownTimeout    = 30 * time.Second
	healthcheckTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドがない場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// API はHTTP APIの構成要素。
type API struct {
	Handler     http.Handler
	Sessions    *auth.SessionManager
	RateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのリソースを解放する。
func (a *API) Close() {
	a.RateLimiter.Stop()
}

// NewAPI は設定とDB接続から全依存関係をワイヤリングし、ルーターを構築する。
// regがnilの場合はメトリクスを収集せず、/metricsも公開しない。
func NewAPI(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *API {
	var collector metrics.MetricsCollector = metrics.Nop{}
	var metricsHandler http.Handler
	if reg != nil {
		collector = metrics.NewCollector(reg)
		metricsHandler = metrics.Handler(reg)
	}

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	auditRepo := repository.NewPostgresAuditLogRepo(db)
	diagramRepo := repository.NewPostgresDiagramRepo(db)

	// 2. 認証サービスの初期化
	sessions := newSessionManager(cfg, db, collector)
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
	})
	auditLogger := audit.NewLogger(auditRepo, collector)
	authService := auth.NewService(provider, user.NewDirectory(userRepo), sessions, auditLogger, collector)

	// 3. ドメインサービスの初期化
	diagramService := diagram.NewService(diagramRepo, auditLogger)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	frontend, err := url.Parse(cfg.FrontendURL)
	cookieSecure := err == nil && frontend.Scheme == "https"

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		TokenVerifier:  sessions,
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		MetricsHandler: metricsHandler,

		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:  cfg.FrontendURL,
			CookieSecure: cookieSecure,
		},

		DiagramService: diagramService,
	})

	return &API{
		Handler:     router,
		Sessions:    sessions,
		RateLimiter: rateLimiter,
	}
}

func newSessionManager(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) *auth.SessionManager {
	return auth.NewSessionManager(
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresRefreshTokenRepo(db),
		auth.SessionManagerConfig{
			SecretKey:       []byte(cfg.JWTSecretKey),
			AccessTokenTTL:  cfg.AccessTokenTTL(),
			RefreshTokenTTL: cfg.RefreshTokenTTL(),
		},
		collector,
	)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	api := NewAPI(cfg, db, newRegistry())
	defer api.Close()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PURGE_INTERVALごとに期限切れのセッションとリフレッシュトークンを削除する。
// WORKER_METRICS_PORTが設定されている場合は/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	if server := newMetricsServer(cfg.WorkerMetricsPort, reg); server != nil {
		go func() {
			slog.Info("worker metrics server starting",
				slog.String("addr", server.Addr),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server failed",
					slog.String("error", err.Error()),
				)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	sessions := newSessionManager(cfg, db, metrics.NewCollector(reg))
	job := cleanup.NewCleanupJob(sessions, slog.Default())
	job.Start(ctx, cfg.PurgeInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newMetricsServer は/metricsのみを公開するHTTPサーバーを返す。portが空の場合はnil。
func newMetricsServer(port string, reg *prometheus.Registry) *http.Server {
	if port == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runPurge は期限切れトークンの削除を1回だけ実行する。
// 収集先のないワンショット実行のため、メトリクスは記録せず件数をログに出す。
func runPurge(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	return cleanup.NewCleanupJob(newSessionManager(cfg, db, nil), slog.Default()).Run(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// downがtrueの場合はすべてのマイグレーションを巻き戻す。
func runMigrate(cfg *config.Config, down bool) error {
	dsn := cfg.DatabaseDSN()
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(dsn)),
		slog.Bool("down", down),
	)

	if down {
		if err := database.MigrateDown(dsn); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations rolled back")
		return nil
	}

	if err := database.RunMigrations(dsn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(dsn)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
