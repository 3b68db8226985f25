package model

import "time"

// ChangeType は変更履歴の種別を表す。
type ChangeType string

const (
	// ChangeAdded は新しい組が出現したことを表す。
	ChangeAdded ChangeType = "added"
	// ChangeUpdated は科目の唯一のアクティブな日付が別の日付に置き換わったことを表す。
	ChangeUpdated ChangeType = "updated"
	// ChangeRemoved はアクティブだった組がスナップショットから消えたことを表す。
	ChangeRemoved ChangeType = "removed"
)

// Valid は定義済みの種別かどうかを返す。
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeAdded, ChangeUpdated, ChangeRemoved:
		return true
	default:
		return false
	}
}

// ChangeLogEntry はresults_historyテーブルの1行を表す。
// 追記専用で、書き込み後に変更されるのはNotificationSentのみ。
//
//   - added:   Date=新しい日付, PreviousDate=NULL
//   - updated: Date=新しい日付, PreviousDate=旧日付
//   - removed: Date=NULL, PreviousDate=削除された日付
type ChangeLogEntry struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id"`
	Subject          string     `json:"course_name"`
	Date             NullDate   `json:"result_date"`
	ChangeType       ChangeType `json:"change_type"`
	PreviousDate     NullDate   `json:"previous_date"`
	NotificationSent bool       `json:"notification_sent"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DateChange は科目の日付更新（旧日付から新日付への置き換え）を表す。
type DateChange struct {
	Subject string
	From    Date
	To      Date
}

// OldKey は更新前の組を返す。
func (c DateChange) OldKey() ResultKey {
	return ResultKey{Subject: c.Subject, Date: c.From}
}

// NewKey は更新後の組を返す。
func (c DateChange) NewKey() ResultKey {
	return ResultKey{Subject: c.Subject, Date: c.To}
}

// Changeset は差分計算の結果。4つの分類は互いに素である。
type Changeset struct {
	Added     []ResultKey
	Updated   []DateChange
	Removed   []ResultKey
	Unchanged []ResultKey
}

// HasChanges は変更履歴に記録すべき変更が1件以上あるかどうかを返す。
func (c *Changeset) HasChanges() bool {
	return len(c.Added) > 0 || len(c.Updated) > 0 || len(c.Removed) > 0
}

// Counts は分類ごとの件数を返す。
func (c *Changeset) Counts() ChangeCounts {
	return ChangeCounts{
		Added:     len(c.Added),
		Updated:   len(c.Updated),
		Removed:   len(c.Removed),
		Unchanged: len(c.Unchanged),
	}
}

// ChangeCounts は分類ごとの件数。
type ChangeCounts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}
