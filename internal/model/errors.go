package model

import (
	"errors"
	"fmt"
)

// 同期処理のセンチネルエラー。呼び出し側はerrors.Isで判定する。
var (
	// ErrInvalidDate は日付文字列を暦日として解釈できないことを表す。
	ErrInvalidDate = errors.New("invalid date")
	// ErrNoRecords はスクレイプ結果にレコードが1件も含まれないことを表す。
	ErrNoRecords = errors.New("no records scraped")
	// ErrEmptySnapshot はレコードはあるが有効な組が1件も残らなかったことを表す。
	// 既存のアクティブな結果を一括で無効化しないよう、同期は中止される。
	ErrEmptySnapshot = errors.New("snapshot has no valid records")
	// ErrSyncInProgress は別の同期がアドバイザリロックを保持していることを表す。
	ErrSyncInProgress = errors.New("another sync is in progress")
)

// IsAbort は状態に触れずに中止すべき同期エラーかどうかを返す。
func IsAbort(err error) bool {
	return errors.Is(err, ErrNoRecords) || errors.Is(err, ErrEmptySnapshot)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidTriggerKey = "INVALID_TRIGGER_KEY"
	ErrCodeSyncInProgress    = "SYNC_IN_PROGRESS"
	ErrCodeEmptySnapshot     = "EMPTY_SNAPSHOT"
	ErrCodeSyncFailed        = "SYNC_FAILED"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeTokenNotFound     = "TOKEN_NOT_FOUND"
	ErrCodeInvalidLimit      = "INVALID_LIMIT"
)

// NewInvalidTriggerKeyError はトリガーキー不一致エラーを生成する。
func NewInvalidTriggerKeyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTriggerKey,
		Message:  "トリガーキーが正しくありません。",
		Category: "auth",
		Action:   "設定されたトリガーキーを指定してください。",
	}
}

// NewSyncInProgressError は同期の多重実行エラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "別の同期処理が実行中です。",
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewEmptySnapshotError は空スナップショットによる同期中止エラーを生成する。
func NewEmptySnapshotError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeEmptySnapshot,
		Message:  fmt.Sprintf("有効な結果を取得できなかったため同期を中止しました: %s", reason),
		Category: "sync",
		Action:   "取得元のページ構成が変わっていないか確認してください。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
func NewSyncFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  "同期処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidTokenError は無効なデバイストークンエラーを生成する。
func NewInvalidTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  fmt.Sprintf("無効なトークンです: %s", reason),
		Category: "validation",
		Action:   "通知の許可を取り直してから再度登録してください。",
	}
}

// NewTokenNotFoundError はトークン未登録エラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "指定されたトークンは登録されていません。",
		Category: "validation",
		Action:   "登録済みのトークンを指定してください。",
	}
}

// NewInvalidLimitError は件数指定が無効な場合のエラーを生成する。
func NewInvalidLimitError(raw string, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な件数指定です: %s", raw),
		Category: "validation",
		Action:   fmt.Sprintf("limitには1から%dまでの整数を指定してください。", max),
	}
}
