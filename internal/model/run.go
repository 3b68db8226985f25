package model

import "time"

// SyncStatus は同期実行の結果種別を表す。
type SyncStatus string

const (
	// SyncSucceeded は差分が適用されコミットされた実行。
	SyncSucceeded SyncStatus = "succeeded"
	// SyncAborted は空スナップショットなどにより状態に触れずに中止された実行。
	SyncAborted SyncStatus = "aborted"
	// SyncFailed はスクレイプ失敗やトランザクション失敗でロールバックされた実行。
	SyncFailed SyncStatus = "failed"
)

// SyncRun はsync_runsテーブルの1行で、1回の同期実行の結果を表す。
type SyncRun struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Status       SyncStatus `json:"status"`
	RawCount     int        `json:"raw_count"`
	ValidCount   int        `json:"valid_count"`
	SkippedCount int        `json:"skipped_count"`
	ChangeCounts
	ErrorMessage string `json:"error_message,omitempty"`
}

// DeviceToken はプッシュ通知の宛先として登録されたFCMトークン。
type DeviceToken struct {
	Token      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
