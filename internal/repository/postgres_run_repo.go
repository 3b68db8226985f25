package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/resultwatch/internal/model"
)

// PostgresRunRepo はPostgreSQLを使用した同期実行履歴リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// ListRecent は直近の同期実行をstarted_at降順で最大limit件返す。
func (r *PostgresRunRepo) ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, raw_count, valid_count, skipped_count,
		        added, updated, removed, unchanged, error_message
		 FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("同期実行履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var run model.SyncRun
		var status string
		var errorMessage sql.NullString
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &status,
			&run.RawCount, &run.ValidCount, &run.SkippedCount,
			&run.Added, &run.Updated, &run.Removed, &run.Unchanged,
			&errorMessage,
		); err != nil {
			return nil, fmt.Errorf("同期実行履歴のスキャンに失敗しました: %w", err)
		}
		run.Status = model.SyncStatus(status)
		run.ErrorMessage = nullStringValue(errorMessage)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期実行履歴の読み込みに失敗しました: %w", err)
	}
	return runs, nil
}

var _ RunRepository = (*PostgresRunRepo)(nil)
