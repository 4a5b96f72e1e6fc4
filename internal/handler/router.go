package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/huddle/internal/metrics"
	"github.com/hitoshi/huddle/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// WebSocketゲートウェイ
	WebSocket http.Handler

	// セッション
	Sessions      SessionServiceInterface
	ImportDecoder ImportDecoder
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(GeneralMiddleware)
//
// /health、/metrics、/ws はレート制限の外に配置する。
// WebSocket接続はゲートウェイが接続単位でレート制限を行う。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	sessionHandler := NewSessionHandler(deps.Sessions, deps.ImportDecoder)

	// --- レート制限の対象外 ---
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	if deps.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", deps.WebSocket)
	}

	// --- REST API ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Route("/api/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/export", sessionHandler.Export)

			// 一括取り込みは専用のレート制限を追加
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.ImportMiddleware()).Post("/items/import", sessionHandler.ImportItems)
			} else {
				r.Post("/items/import", sessionHandler.ImportItems)
			}
		})
	})

	return r
}
