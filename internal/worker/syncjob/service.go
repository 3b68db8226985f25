// Package syncjob はスクレイプから差分の適用までの同期処理と、その定期実行を提供する。
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/reconcile"
	"github.com/hitoshi/resultwatch/internal/repository"
	"github.com/hitoshi/resultwatch/internal/snapshot"
)

// recordRunTimeout は中止・失敗した実行の記録に使う猶予。
const recordRunTimeout = 5 * time.Second

// ResultScraper は結果一覧の取得インターフェース。
type ResultScraper interface {
	Scrape(ctx context.Context) ([]model.RawRecord, error)
}

// Outcome は1回の同期の結果。
type Outcome struct {
	Run     model.SyncRun
	Changes model.Changeset
	Skipped []snapshot.SkippedRecord
}

// Service は1回の同期を実行する。
// スクレイプ、スナップショット構築、差分計算、適用の順に進め、
// 状態の読み取りと書き込みは全て1つのトランザクション内で行う。
type Service struct {
	scraper   ResultScraper
	builder   *snapshot.Builder
	store     repository.SyncStore
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	dbTimeout time.Duration

	// running はプロセス内での同期の重複実行を防ぐ。プロセス間はアドバイザリロックで防ぐ。
	running sync.Mutex

	newRunID func() string
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	scraper ResultScraper,
	store repository.SyncStore,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	dbTimeout time.Duration,
) *Service {
	return &Service{
		scraper:   scraper,
		builder:   snapshot.NewBuilder(logger),
		store:     store,
		metrics:   collector,
		logger:    logger,
		dbTimeout: dbTimeout,
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
}

// Run は1回の同期を実行する。
//
// スナップショットが空の場合（model.ErrNoRecords / model.ErrEmptySnapshot）は
// トランザクションを開始せずに中止する。別の同期がロックを保持している場合は
// model.ErrSyncInProgressを返す。それ以外の失敗はロールバックしてエラーを返す。
// 同じプロセス内で実行中の場合はOutcomeなしでmodel.ErrSyncInProgressを返す。
// それ以外はエラー時もOutcomeを可能な範囲で埋めて返す。
func (s *Service) Run(ctx context.Context) (*Outcome, error) {
	if !s.running.TryLock() {
		return nil, model.ErrSyncInProgress
	}
	defer s.running.Unlock()

	out := &Outcome{
		Run: model.SyncRun{
			ID:        s.newRunID(),
			StartedAt: s.now(),
		},
	}
	logger := s.logger.With(slog.String("run_id", out.Run.ID))

	records, err := s.scraper.Scrape(ctx)
	if err != nil {
		return out, s.fail(ctx, logger, out, fmt.Errorf("結果一覧の取得に失敗しました: %w", err))
	}

	result := s.builder.Build(records)
	out.Skipped = result.Skipped
	out.Run.RawCount = result.Raw
	out.Run.ValidCount = len(result.Snapshot)
	out.Run.SkippedCount = len(result.Skipped)
	s.metrics.RecordSkippedRecords(len(result.Skipped))

	if err := result.Validate(); err != nil {
		return out, s.abort(ctx, logger, out, err)
	}

	if err := s.apply(ctx, out, result.Snapshot); err != nil {
		if errors.Is(err, model.ErrSyncInProgress) {
			logger.Warn("別の同期が実行中のため中止しました")
			return out, err
		}
		return out, s.fail(ctx, logger, out, err)
	}

	s.finish(out)
	s.logChanges(logger, out.Changes)
	logger.Info("同期が完了しました",
		slog.Int("raw_count", out.Run.RawCount),
		slog.Int("valid_count", out.Run.ValidCount),
		slog.Int("skipped_count", out.Run.SkippedCount),
		slog.Int("added", out.Run.Added),
		slog.Int("updated", out.Run.Updated),
		slog.Int("removed", out.Run.Removed),
		slog.Int("unchanged", out.Run.Unchanged),
		slog.Float64("duration_ms", float64(out.Run.FinishedAt.Sub(out.Run.StartedAt).Milliseconds())),
	)
	s.metrics.RecordChanges(out.Run.ChangeCounts)

	return out, nil
}

// apply はDB_TIMEOUTを上限とするトランザクションで前回の状態を読み、差分を適用してコミットする。
func (s *Service) apply(ctx context.Context, out *Outcome, current snapshot.Snapshot) error {
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	tx, err := s.store.BeginSync(dbCtx)
	if err != nil {
		if errors.Is(err, model.ErrSyncInProgress) {
			return err
		}
		return fmt.Errorf("同期トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	previous, err := tx.ActiveView(dbCtx)
	if err != nil {
		return fmt.Errorf("アクティブな結果の読み込みに失敗しました: %w", err)
	}

	out.Changes = reconcile.Reconcile(previous, current)
	out.Run.ChangeCounts = out.Changes.Counts()
	out.Run.Status = model.SyncSucceeded
	out.Run.FinishedAt = s.now()

	if err := tx.Apply(dbCtx, out.Changes, &out.Run); err != nil {
		return fmt.Errorf("差分の適用に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("同期トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// abort は状態に触れずに中止した実行を記録する。
func (s *Service) abort(ctx context.Context, logger *slog.Logger, out *Outcome, err error) error {
	out.Run.Status = model.SyncAborted
	out.Run.ErrorMessage = err.Error()
	s.finish(out)

	logger.Error("スナップショットが空のため同期を中止しました",
		slog.Int("raw_count", out.Run.RawCount),
		slog.Int("skipped_count", out.Run.SkippedCount),
		slog.String("error", err.Error()),
	)
	s.recordRun(ctx, logger, &out.Run)
	return err
}

// fail はロールバックされた実行を記録する。
func (s *Service) fail(ctx context.Context, logger *slog.Logger, out *Outcome, err error) error {
	out.Run.Status = model.SyncFailed
	out.Run.ErrorMessage = err.Error()
	out.Run.ChangeCounts = model.ChangeCounts{}
	out.Changes = model.Changeset{}
	s.finish(out)

	logger.Error("同期に失敗しました",
		slog.String("error", err.Error()),
	)
	s.recordRun(ctx, logger, &out.Run)
	return err
}

func (s *Service) finish(out *Outcome) {
	// 成功時はApplyで書き込んだ時刻をそのまま使う
	if out.Run.Status != model.SyncSucceeded {
		out.Run.FinishedAt = s.now()
	}
	s.metrics.RecordSyncOutcome(out.Run.Status)
	s.metrics.RecordSyncLatency(out.Run.FinishedAt.Sub(out.Run.StartedAt))
}

// recordRun は中止・失敗した実行をトランザクション外で記録する。
// 記録の失敗は同期の結果を変えない。
func (s *Service) recordRun(ctx context.Context, logger *slog.Logger, run *model.SyncRun) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordRunTimeout)
	defer cancel()

	if err := s.store.RecordRun(recCtx, run); err != nil {
		logger.Error("同期実行の記録に失敗しました",
			slog.String("status", string(run.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// logChanges は適用した変更を1件ずつログに出力する。
func (s *Service) logChanges(logger *slog.Logger, cs model.Changeset) {
	for _, k := range cs.Added {
		logger.Info("結果が追加されました",
			slog.String("change_type", string(model.ChangeAdded)),
			slog.String("subject", k.Subject),
			slog.String("result_date", k.Date.String()),
		)
	}
	for _, c := range cs.Updated {
		logger.Info("結果の日付が更新されました",
			slog.String("change_type", string(model.ChangeUpdated)),
			slog.String("subject", c.Subject),
			slog.String("result_date", c.To.String()),
			slog.String("previous_date", c.From.String()),
		)
	}
	for _, k := range cs.Removed {
		logger.Info("結果が削除されました",
			slog.String("change_type", string(model.ChangeRemoved)),
			slog.String("subject", k.Subject),
			slog.String("previous_date", k.Date.String()),
		)
	}
}
