package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/resultwatch/internal/model"
)

// PostgresChangeLogRepo はPostgreSQLを使用した変更履歴リポジトリ。
type PostgresChangeLogRepo struct {
	db *sql.DB
}

// NewPostgresChangeLogRepo はPostgresChangeLogRepoを生成する。
func NewPostgresChangeLogRepo(db *sql.DB) *PostgresChangeLogRepo {
	return &PostgresChangeLogRepo{db: db}
}

const changeLogColumns = `id, run_id, subject_name, result_date, change_type, previous_date, notification_sent, created_at`

// ListPending はnotification_sent = falseの行をid昇順で最大limit件返す。
func (r *PostgresChangeLogRepo) ListPending(ctx context.Context, limit int) ([]model.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+changeLogColumns+`
		 FROM results_history
		 WHERE notification_sent = false
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未通知の変更履歴の取得に失敗しました: %w", err)
	}
	return scanChangeLog(rows)
}

// ListRecent は直近の変更履歴をid降順で最大limit件返す。
func (r *PostgresChangeLogRepo) ListRecent(ctx context.Context, limit int) ([]model.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+changeLogColumns+`
		 FROM results_history
		 ORDER BY id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("変更履歴の取得に失敗しました: %w", err)
	}
	return scanChangeLog(rows)
}

func scanChangeLog(rows *sql.Rows) ([]model.ChangeLogEntry, error) {
	defer rows.Close()

	var entries []model.ChangeLogEntry
	for rows.Next() {
		var e model.ChangeLogEntry
		var changeType string
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.Subject, &e.Date, &changeType,
			&e.PreviousDate, &e.NotificationSent, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("変更履歴のスキャンに失敗しました: %w", err)
		}
		e.ChangeType = model.ChangeType(changeType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("変更履歴の読み込みに失敗しました: %w", err)
	}
	return entries, nil
}

// MarkSent はnotification_sentをtrueにする。既に送信済みの場合は何もしない。
func (r *PostgresChangeLogRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE results_history SET notification_sent = true
		 WHERE id = $1 AND notification_sent = false`,
		id,
	)
	if err != nil {
		return fmt.Errorf("通知済みフラグの更新に失敗しました: %w", err)
	}
	return nil
}

// RecordDelivery は宛先への配信成功を記録する。記録済みの場合は何もしない。
func (r *PostgresChangeLogRepo) RecordDelivery(ctx context.Context, changeID int64, recipient string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_deliveries (change_id, recipient, delivered_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (change_id, recipient) DO NOTHING`,
		changeID, recipient,
	)
	if err != nil {
		return fmt.Errorf("配信記録の書き込みに失敗しました: %w", err)
	}
	return nil
}

// ListDelivered は変更履歴1件について配信済みの宛先を返す。
func (r *PostgresChangeLogRepo) ListDelivered(ctx context.Context, changeID int64) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recipient FROM notification_deliveries WHERE change_id = $1`,
		changeID,
	)
	if err != nil {
		return nil, fmt.Errorf("配信記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	delivered := make(map[string]struct{})
	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, fmt.Errorf("配信記録のスキャンに失敗しました: %w", err)
		}
		delivered[recipient] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信記録の読み込みに失敗しました: %w", err)
	}
	return delivered, nil
}

var _ ChangeLogRepository = (*PostgresChangeLogRepo)(nil)
