// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/resultwatch/internal/model"
)

// SyncStore は同期トランザクションの開始と、同期結果の記録を提供する。
type SyncStore interface {
	// BeginSync は同期用トランザクションを開始し、アドバイザリロックを取得する。
	// 別の同期がロックを保持している場合はmodel.ErrSyncInProgressを返す。
	BeginSync(ctx context.Context) (SyncTx, error)

	// RecordRun はトランザクション外で同期実行の記録を書き込む。
	// 中止・失敗した実行の記録に使用する。
	RecordRun(ctx context.Context, run *model.SyncRun) error
}

// SyncTx は1回の同期の読み取りと書き込みを1つのトランザクションで行う。
// 呼び出し側はCommitしない全ての経路でRollbackを呼ぶこと（Commit後のRollbackは無害）。
type SyncTx interface {
	// ActiveView はis_active = trueの組を読み込む。
	ActiveView(ctx context.Context) (model.ActiveView, error)

	// Apply は差分をresults、course_result_timeline、results_historyへ適用し、
	// 成功した同期実行の記録を書き込む。
	Apply(ctx context.Context, cs model.Changeset, run *model.SyncRun) error

	Commit() error
	Rollback() error
}

// ResultRepository はダッシュボード向けの結果参照インターフェース。
type ResultRepository interface {
	// ListActive はアクティブな結果を日付の降順で返す。
	ListActive(ctx context.Context) ([]model.ActiveRecord, error)

	// ListTimeline はこれまでに観測された全ての組を最終観測日時の降順で返す。
	ListTimeline(ctx context.Context) ([]model.TimelineRecord, error)
}

// ChangeLogRepository は変更履歴の参照と通知状態の更新を行うインターフェース。
// 変更履歴の行を書き込むのは同期トランザクション（SyncTx.Apply）のみ。
type ChangeLogRepository interface {
	// ListPending はnotification_sent = falseの行をid昇順で最大limit件返す。
	ListPending(ctx context.Context, limit int) ([]model.ChangeLogEntry, error)

	// ListRecent は直近の変更履歴をid降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]model.ChangeLogEntry, error)

	// MarkSent はnotification_sentをtrueにする。既に送信済みの場合は何もしない。
	MarkSent(ctx context.Context, id int64) error

	// RecordDelivery は宛先への配信成功を記録する。記録済みの場合は何もしない。
	RecordDelivery(ctx context.Context, changeID int64, recipient string) error

	// ListDelivered は変更履歴1件について配信済みの宛先を返す。
	ListDelivered(ctx context.Context, changeID int64) (map[string]struct{}, error)
}

// TokenRepository はプッシュ通知用デバイストークンの永続化インターフェース。
type TokenRepository interface {
	// Register はトークンを登録する。登録済みの場合はlast_seen_atを更新する。
	Register(ctx context.Context, token string) error

	// List は登録済みの全トークンを返す。
	List(ctx context.Context) ([]model.DeviceToken, error)

	// Delete はトークンを削除する。存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, token string) (bool, error)
}

// RunRepository は同期実行履歴の参照インターフェース。
type RunRepository interface {
	// ListRecent は直近の同期実行をstarted_at降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
