package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/resultwatch/internal/config"
	"github.com/hitoshi/resultwatch/internal/database"
	"github.com/hitoshi/resultwatch/internal/handler"
	"github.com/hitoshi/resultwatch/internal/logger"
	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/middleware"
	"github.com/hitoshi/resultwatch/internal/worker/syncjob"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runWithConfig は設定を読み込んでからfnを実行する。
func runWithConfig(w io.Writer, cmd Command, fn func(cfg *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("source_url", cfg.SourceURL),
	)

	return fn(cfg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := newComponents(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		Results:           c.results,
		Changes:           c.changes,
		Runs:              c.runs,
		Feed:              handler.FeedConfig{Link: cfg.SourceURL},
		Tokens:            c.tokens,
		SyncRunner:        c.syncService,
		TriggerSecret:     cfg.TriggerSecret,
		Gatherer:          c.registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DBTimeout + cfg.ScrapeTimeout + 15*time.Second, // /api/trigger は同期1回分を待つ
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
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 同期スケジューラ、通知ディスパッチャー、トークン削除ジョブをそれぞれのティッカーで動かし、
// コンテキストがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := newComponents(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Duration("notify_interval", cfg.NotifyInterval),
		slog.Int("channels", len(c.channels)),
	)

	// workerはAPIを持たないため /metrics だけを公開する
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(c.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// 通知ディスパッチャーとクリーンアップジョブをバックグラウンドで起動
	done := make(chan struct{}, 2)
	go func() {
		c.dispatcher.Start(ctx)
		done <- struct{}{}
	}()
	go func() {
		c.cleanup.Start(ctx, 24*time.Hour)
		done <- struct{}{}
	}()

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	syncjob.NewScheduler(c.syncService, slog.Default(), cfg.SyncInterval).Start(ctx)

	<-done
	<-done
	slog.Info("worker stopped gracefully")
	return nil
}

// runSync は同期を1回実行する。notifyAfterがtrueの場合は成功後に通知も配信する。
// 空のスナップショット、ロック競合、トランザクション失敗はエラーとして返す。
func runSync(ctx context.Context, cfg *config.Config, notifyAfter bool) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := newComponents(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}

	out, err := c.syncService.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync completed",
		slog.String("run_id", out.Run.ID),
		slog.Int("added", out.Run.Added),
		slog.Int("updated", out.Run.Updated),
		slog.Int("removed", out.Run.Removed),
		slog.Int("unchanged", out.Run.Unchanged),
	)

	if !notifyAfter {
		return nil
	}
	return dispatchOnce(ctx, c)
}

// runNotify は未通知の変更履歴を1回配信する。
func runNotify(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := newComponents(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}
	return dispatchOnce(ctx, c)
}

func dispatchOnce(ctx context.Context, c *components) error {
	stats, err := c.dispatcher.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("notify failed: %d deliveries failed", stats.Failed)
	}
	return nil
}

// runCleanup は保持期間を過ぎたデバイストークンを1回削除する。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := newComponents(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}
	return c.cleanup.Run(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// Main はRunを実行し、プロセスの終了コードを返す。
func Main() int {
	if err := Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}
