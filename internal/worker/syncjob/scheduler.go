package syncjob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/resultwatch/internal/model"
)

// Runner は同期1回の実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (*Outcome, error)
}

// Scheduler は同期をティッカーで定期実行する。
// 同期は1つのgoroutineで順に実行するため、ティックが重なっても並行実行されない。
type Scheduler struct {
	runner   Runner
	logger   *slog.Logger
	interval time.Duration
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
	}
}

// Start はinterval間隔のティッカーで同期を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", s.interval),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は同期を1回実行し、結果をログに記録する。
// 中止やロック競合は次のティックで再試行されるため、エラーは呼び出し元に返さない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, model.ErrSyncInProgress):
		s.logger.Info("同期が実行中のためこのティックをスキップします")
	case model.IsAbort(err):
		s.logger.Warn("同期は中止されました。次のティックで再試行します",
			slog.String("error", err.Error()),
		)
	default:
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
