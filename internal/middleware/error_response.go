package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/resultwatch/internal/model"
)

// middleware自身が返すエラーコード
const (
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はドメインエラーコードとHTTPステータスの対応。
var statusByCode = map[string]int{
	model.ErrCodeInvalidTriggerKey: http.StatusUnauthorized,
	model.ErrCodeSyncInProgress:    http.StatusConflict,
	model.ErrCodeEmptySnapshot:     http.StatusUnprocessableEntity,
	model.ErrCodeSyncFailed:        http.StatusInternalServerError,
	model.ErrCodeInvalidToken:      http.StatusBadRequest,
	model.ErrCodeInvalidLimit:      http.StatusBadRequest,
	model.ErrCodeTokenNotFound:     http.StatusNotFound,
	ErrCodeRateLimitExceeded:       http.StatusTooManyRequests,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}); err != nil {
		slog.Error("エラーレスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// WriteAPIError はエラーコードから決まるステータスでAPIErrorを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteTooManyRequests は429レスポンスをRetry-Afterヘッダー付きで書き込む。
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSec int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, &model.APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
