// Package cleanup は長期間更新されていないデバイストークンの自動削除ジョブを提供する。
// last_seen_atが保持期間（デフォルト90日）を超過したfcm_tokensの行を
// 日次バッチで削除する。登録済みのクライアントは起動時にトークンを再登録するため、
// 削除されるのは利用されなくなった端末のトークンのみ。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はトークンの既定の保持日数。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したデバイストークンの削除ジョブ。
// 削除対象がなくてもエラーにならないため、何度実行してもよい。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // トークンの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はlast_seen_atがRetentionDays日前より古いトークンを削除する。
// RetentionDaysが0以下の場合は削除を行わない。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		j.logger.Info("トークンの保持日数が無効のためクリーンアップをスキップします",
			slog.Int("retention_days", j.RetentionDays),
		)
		return nil
	}

	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM fcm_tokens WHERE last_seen_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 失敗はRun内でログに記録済みのため、次のティックで再試行する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
