package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/resultwatch/internal/model"
)

// syncLockKey は同期の単一実行を保証するアドバイザリロックのキー。
const syncLockKey int64 = 0x7265_7375_6c74 // "result"

// PostgresResultRepo はPostgreSQLを使用した結果リポジトリ。
// 同期トランザクションの開始とダッシュボード向けの参照を提供する。
type PostgresResultRepo struct {
	db *sql.DB
}

// NewPostgresResultRepo はPostgresResultRepoを生成する。
func NewPostgresResultRepo(db *sql.DB) *PostgresResultRepo {
	return &PostgresResultRepo{db: db}
}

// BeginSync は同期用トランザクションを開始し、トランザクションスコープのアドバイザリロックを取得する。
// ロックはCommitまたはRollbackで解放される。
func (r *PostgresResultRepo) BeginSync(ctx context.Context) (SyncTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("同期トランザクションの開始に失敗しました: %w", err)
	}

	var locked bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, syncLockKey).Scan(&locked); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("同期ロックの取得に失敗しました: %w", err)
	}
	if !locked {
		tx.Rollback()
		return nil, model.ErrSyncInProgress
	}

	return &postgresSyncTx{tx: tx}, nil
}

// RecordRun はトランザクション外で同期実行の記録を書き込む。
func (r *PostgresResultRepo) RecordRun(ctx context.Context, run *model.SyncRun) error {
	return insertRun(ctx, r.db, run)
}

// ListActive はアクティブな結果を日付の降順で返す。
func (r *PostgresResultRepo) ListActive(ctx context.Context) ([]model.ActiveRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject_name, result_date, is_active, first_seen, last_seen
		 FROM results
		 WHERE is_active = true
		 ORDER BY result_date DESC, subject_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブな結果の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.ActiveRecord
	for rows.Next() {
		var rec model.ActiveRecord
		if err := rows.Scan(&rec.ID, &rec.Subject, &rec.Date, &rec.IsActive, &rec.FirstSeen, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("結果のスキャンに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("結果の読み込みに失敗しました: %w", err)
	}
	return records, nil
}

// ListTimeline はこれまでに観測された全ての組を最終観測日時の降順で返す。
func (r *PostgresResultRepo) ListTimeline(ctx context.Context) ([]model.TimelineRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subject_name, result_date, first_seen, last_seen, times_appeared, is_currently_active
		 FROM course_result_timeline
		 ORDER BY last_seen DESC, subject_name, result_date`,
	)
	if err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.TimelineRecord
	for rows.Next() {
		var rec model.TimelineRecord
		if err := rows.Scan(&rec.Subject, &rec.Date, &rec.FirstSeen, &rec.LastSeen, &rec.TimesAppeared, &rec.IsCurrentlyActive); err != nil {
			return nil, fmt.Errorf("タイムラインのスキャンに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タイムラインの読み込みに失敗しました: %w", err)
	}
	return records, nil
}

// postgresSyncTx は1回の同期に対応するトランザクション。
type postgresSyncTx struct {
	tx *sql.Tx
}

// ActiveView はis_active = trueの組を読み込む。
func (s *postgresSyncTx) ActiveView(ctx context.Context) (model.ActiveView, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT subject_name, result_date FROM results WHERE is_active = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブな結果の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	view := make(model.ActiveView)
	for rows.Next() {
		var k model.ResultKey
		if err := rows.Scan(&k.Subject, &k.Date); err != nil {
			return nil, fmt.Errorf("結果のスキャンに失敗しました: %w", err)
		}
		view.Add(k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("結果の読み込みに失敗しました: %w", err)
	}
	return view, nil
}

// Apply は差分を適用する。時刻はすべてトランザクション開始時刻（now()）に揃う。
//
// 適用順序:
//  1. 削除と更新前の組を非アクティブ化
//  2. 追加と更新後の組をアクティブ化（タイムラインのtimes_appearedを加算）
//  3. 変更なしの組のlast_seenを更新
//  4. 変更履歴と同期実行の記録を追記
func (s *postgresSyncTx) Apply(ctx context.Context, cs model.Changeset, run *model.SyncRun) error {
	deactivate := make([]model.ResultKey, 0, len(cs.Removed)+len(cs.Updated))
	deactivate = append(deactivate, cs.Removed...)
	activate := make([]model.ResultKey, 0, len(cs.Added)+len(cs.Updated))
	activate = append(activate, cs.Added...)
	for _, u := range cs.Updated {
		deactivate = append(deactivate, u.OldKey())
		activate = append(activate, u.NewKey())
	}

	if err := s.deactivate(ctx, deactivate); err != nil {
		return err
	}
	if err := s.activate(ctx, activate); err != nil {
		return err
	}
	if err := s.touch(ctx, cs.Unchanged); err != nil {
		return err
	}
	if err := s.appendChangeLog(ctx, run.ID, cs); err != nil {
		return err
	}
	return insertRun(ctx, s.tx, run)
}

func (s *postgresSyncTx) deactivate(ctx context.Context, keys []model.ResultKey) error {
	if len(keys) == 0 {
		return nil
	}
	subjects, dates := splitKeys(keys)

	if _, err := s.tx.ExecContext(ctx,
		`UPDATE results r SET is_active = false
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 WHERE r.subject_name = t.subject_name AND r.result_date = t.result_date`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("結果の非アクティブ化に失敗しました: %w", err)
	}
	if _, err := s.tx.ExecContext(ctx,
		`UPDATE course_result_timeline c SET is_currently_active = false
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 WHERE c.subject_name = t.subject_name AND c.result_date = t.result_date`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("タイムラインの非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

func (s *postgresSyncTx) activate(ctx context.Context, keys []model.ResultKey) error {
	if len(keys) == 0 {
		return nil
	}
	subjects, dates := splitKeys(keys)

	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO results (subject_name, result_date, is_active, first_seen, last_seen)
		 SELECT subject_name, result_date, true, now(), now()
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 ON CONFLICT (subject_name, result_date)
		 DO UPDATE SET is_active = true, last_seen = now()`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("結果のUPSERTに失敗しました: %w", err)
	}
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO course_result_timeline
		     (subject_name, result_date, first_seen, last_seen, times_appeared, is_currently_active)
		 SELECT subject_name, result_date, now(), now(), 1, true
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 ON CONFLICT (subject_name, result_date)
		 DO UPDATE SET last_seen = now(),
		               times_appeared = course_result_timeline.times_appeared + 1,
		               is_currently_active = true`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("タイムラインのUPSERTに失敗しました: %w", err)
	}
	return nil
}

func (s *postgresSyncTx) touch(ctx context.Context, keys []model.ResultKey) error {
	if len(keys) == 0 {
		return nil
	}
	subjects, dates := splitKeys(keys)

	if _, err := s.tx.ExecContext(ctx,
		`UPDATE results r SET last_seen = now()
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 WHERE r.subject_name = t.subject_name AND r.result_date = t.result_date`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("結果のlast_seen更新に失敗しました: %w", err)
	}
	if _, err := s.tx.ExecContext(ctx,
		`UPDATE course_result_timeline c SET last_seen = now(), is_currently_active = true
		 FROM unnest($1::text[], $2::date[]) AS t(subject_name, result_date)
		 WHERE c.subject_name = t.subject_name AND c.result_date = t.result_date`,
		pq.Array(subjects), pq.Array(dates),
	); err != nil {
		return fmt.Errorf("タイムラインのlast_seen更新に失敗しました: %w", err)
	}
	return nil
}

// appendChangeLog は追加、更新、削除の順に変更履歴を追記する。
// idは入力の順序で採番される。
func (s *postgresSyncTx) appendChangeLog(ctx context.Context, runID string, cs model.Changeset) error {
	n := len(cs.Added) + len(cs.Updated) + len(cs.Removed)
	if n == 0 {
		return nil
	}

	subjects := make([]string, 0, n)
	resultDates := make([]sql.NullString, 0, n)
	changeTypes := make([]string, 0, n)
	previousDates := make([]sql.NullString, 0, n)

	for _, k := range cs.Added {
		subjects = append(subjects, k.Subject)
		resultDates = append(resultDates, nullString(k.Date.String()))
		changeTypes = append(changeTypes, string(model.ChangeAdded))
		previousDates = append(previousDates, sql.NullString{})
	}
	for _, u := range cs.Updated {
		subjects = append(subjects, u.Subject)
		resultDates = append(resultDates, nullString(u.To.String()))
		changeTypes = append(changeTypes, string(model.ChangeUpdated))
		previousDates = append(previousDates, nullString(u.From.String()))
	}
	for _, k := range cs.Removed {
		subjects = append(subjects, k.Subject)
		resultDates = append(resultDates, sql.NullString{})
		changeTypes = append(changeTypes, string(model.ChangeRemoved))
		previousDates = append(previousDates, nullString(k.Date.String()))
	}

	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO results_history
		     (run_id, subject_name, result_date, change_type, previous_date, notification_sent, created_at)
		 SELECT $1, subject_name, result_date, change_type, previous_date, false, now()
		 FROM unnest($2::text[], $3::date[], $4::text[], $5::date[])
		      WITH ORDINALITY AS t(subject_name, result_date, change_type, previous_date, ord)
		 ORDER BY ord`,
		runID, pq.Array(subjects), pq.Array(resultDates), pq.Array(changeTypes), pq.Array(previousDates),
	); err != nil {
		return fmt.Errorf("変更履歴の追記に失敗しました: %w", err)
	}
	return nil
}

func (s *postgresSyncTx) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("同期トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

func (s *postgresSyncTx) Rollback() error {
	err := s.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// execer はトランザクション内外で共通に使うExecContext。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertRun(ctx context.Context, db execer, run *model.SyncRun) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sync_runs
		     (id, started_at, finished_at, status, raw_count, valid_count, skipped_count,
		      added, updated, removed, unchanged, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.StartedAt, run.FinishedAt, string(run.Status),
		run.RawCount, run.ValidCount, run.SkippedCount,
		run.Added, run.Updated, run.Removed, run.Unchanged,
		nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("同期実行の記録に失敗しました: %w", err)
	}
	return nil
}

// splitKeys は組をunnest用の科目名配列と日付配列に分解する。
func splitKeys(keys []model.ResultKey) ([]string, []string) {
	subjects := make([]string, len(keys))
	dates := make([]string, len(keys))
	for i, k := range keys {
		subjects[i] = k.Subject
		dates[i] = k.Date.String()
	}
	return subjects, dates
}

var (
	_ SyncStore        = (*PostgresResultRepo)(nil)
	_ ResultRepository = (*PostgresResultRepo)(nil)
	_ SyncTx           = (*postgresSyncTx)(nil)
)
