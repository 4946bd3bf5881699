package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger         *slog.Logger
	TokenVerifier  middleware.TokenVerifier
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等から接続元IPを決める。
	// 信頼できるリバースプロキシの背後に置くときだけ有効にする。
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ダイアグラム
	DiagramService DiagramServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェアの実行順序:
//
//	RequestID → (RealIP) → Logging → Metrics → Recovery → NoCache → SecurityHeaders → CORS → ClientInfo
//
// /api/auth/* には接続元IPごとのレート制限、保護ルートにはBearer認証とユーザーごとのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewNoCacheMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))
	r.Use(middleware.NewClientInfoMiddleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	diagramHandler := NewDiagramHandler(deps.DiagramService)
	bearer := middleware.NewBearerAuthMiddleware(deps.TokenVerifier)

	// --- 認証不要のルート ---

	r.Get("/api/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.IPMiddleware())

		// OAuthフロー
		r.Get("/google/url", authHandler.GoogleURL)
		r.Get("/google/callback", authHandler.GoogleCallback)
		r.Post("/google/verify", authHandler.VerifyGoogleToken)

		// トークン管理
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)

		r.With(bearer).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(User)
	r.Group(func(r chi.Router) {
		r.Use(bearer)
		r.Use(deps.RateLimiter.UserMiddleware())

		r.Route("/api/diagrams", func(r chi.Router) {
			r.Get("/", diagramHandler.List)
			r.Post("/", diagramHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", diagramHandler.Get)
				r.Put("/", diagramHandler.Update)
				r.Delete("/", diagramHandler.Delete)
				r.Post("/restore", diagramHandler.Restore)
			})
		})
	})

	return r
}

// Health は死活監視用のエンドポイント。
// GET /api/health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Mermaid Editor API is running",
	})
}
