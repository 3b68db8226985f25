// Package handler はダッシュボード向けのHTTP APIを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/middleware"
	"github.com/hitoshi/resultwatch/internal/worker/syncjob"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認の上限。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はDBの疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	HealthChecker HealthChecker

	// 参照API
	Results ResultReader
	Changes ChangeReader
	Runs    RunReader
	Feed    FeedConfig

	// 書き込みAPI
	Tokens        TokenStore
	SyncRunner    syncjob.Runner
	TriggerSecret string

	// Gatherer が設定されている場合は /metrics を公開する
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//
// 書き込みを伴うルート（/api/tokens, /api/trigger）にはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	resultHandler := NewResultHandler(deps.Results, deps.Changes, deps.Runs)
	feedHandler := NewFeedHandler(deps.Changes, deps.Feed)
	tokenHandler := NewTokenHandler(deps.Tokens)
	triggerHandler := NewTriggerHandler(deps.SyncRunner, deps.TriggerSecret)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Get("/feed.xml", feedHandler.ServeFeed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/results", resultHandler.ListResults)
		r.Get("/timeline", resultHandler.ListTimeline)
		r.Get("/changes", resultHandler.ListChanges)
		r.Get("/runs", resultHandler.ListRuns)

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}
			r.Post("/tokens", tokenHandler.Register)
			r.Delete("/tokens", tokenHandler.Unregister)
			r.Post("/trigger", triggerHandler.Trigger)
		})
	})

	return r
}

// healthHandler はプロセスとDBの疎通を確認する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("ヘルスチェックでDBに接続できませんでした", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
