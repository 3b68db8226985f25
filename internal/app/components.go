package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/resultwatch/internal/config"
	"github.com/hitoshi/resultwatch/internal/database"
	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/notify"
	"github.com/hitoshi/resultwatch/internal/repository"
	"github.com/hitoshi/resultwatch/internal/scraper"
	"github.com/hitoshi/resultwatch/internal/security"
	"github.com/hitoshi/resultwatch/internal/worker/cleanup"
	"github.com/hitoshi/resultwatch/internal/worker/syncjob"
)

// components は各サブコマンドが共有する依存関係一式。
type components struct {
	registry *prometheus.Registry

	results *repository.PostgresResultRepo
	changes *repository.PostgresChangeLogRepo
	runs    *repository.PostgresRunRepo
	tokens  *repository.PostgresTokenRepo

	syncService *syncjob.Service
	channels    []notify.Channel
	dispatcher  *notify.Dispatcher
	cleanup     *cleanup.CleanupJob
}

// openDatabase はDB接続を開き、到達できることを確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, cfg.DBTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newComponents はリポジトリ、同期サービス、通知チャネルをワイヤリングする。
func newComponents(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	c := &components{
		registry: prometheus.NewRegistry(),
		results:  repository.NewPostgresResultRepo(db),
		changes:  repository.NewPostgresChangeLogRepo(db),
		runs:     repository.NewPostgresRunRepo(db),
		tokens:   repository.NewPostgresTokenRepo(db),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(c.registry)

	// 外部アクセスはすべてSSRFガード経由のクライアントで行う
	guard := security.NewSSRFGuard(cfg.ScrapeAllowPrivate)

	resultScraper := scraper.NewScraper(guard, security.NewTextSanitizer(), logger, cfg.SourceURL, scraper.Options{
		Timeout:     cfg.ScrapeTimeout,
		MaxBodySize: cfg.ScrapeMaxSize,
		MaxRetries:  cfg.ScrapeMaxRetries,
		RetryWait:   cfg.ScrapeRetryWait,
	})
	c.syncService = syncjob.NewService(resultScraper, c.results, collector, logger, cfg.DBTimeout)

	channels, err := newChannels(ctx, cfg, guard, c.tokens, logger)
	if err != nil {
		return nil, err
	}
	c.channels = channels
	c.dispatcher = notify.NewDispatcher(c.changes, channels, collector, logger, notify.DispatchConfig{
		Interval:  cfg.NotifyInterval,
		BatchSize: cfg.NotifyBatchSize,
	})

	c.cleanup = cleanup.NewCleanupJob(db, logger)
	c.cleanup.RetentionDays = cfg.TokenRetentionDays

	return c, nil
}

// newChannels は設定済みの通知チャネルを生成する。
// NOTIFY_DRY_RUNが有効な場合は実際の送信先を使わず標準出力に書き出す。
func newChannels(
	ctx context.Context,
	cfg *config.Config,
	guard *security.SSRFGuard,
	tokens repository.TokenRepository,
	logger *slog.Logger,
) ([]notify.Channel, error) {
	if cfg.NotifyDryRun {
		return []notify.Channel{notify.NewDryRunChannel(os.Stdout)}, nil
	}

	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		if err := guard.ValidateURL(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_URL: %w", err)
		}
		channels = append(channels, notify.NewWebhookChannel(guard.NewClient(cfg.ScrapeTimeout), logger, cfg.WebhookURL))
	}
	if cfg.FCMEnabled() {
		fcm, err := notify.NewFCMChannel(ctx, cfg.FCMProjectID, []byte(cfg.FCMCredentialsJSON),
			guard.NewClient(cfg.ScrapeTimeout), tokens, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, fcm)
	}
	return channels, nil
}
