package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/resultwatch/internal/middleware"
	"github.com/hitoshi/resultwatch/internal/model"
)

const (
	// defaultListLimit は変更履歴・同期履歴の1回の取得件数（デフォルト）。
	defaultListLimit = 50
	// maxListLimit はlimitに指定できる上限。
	maxListLimit = 200
)

// writeJSON はステータスコードとともにJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// handleServiceError はリポジトリやサービスから返されたエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは詳細をログのみに残す
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// parseLimit はクエリパラメータlimitを解釈する。
// 未指定の場合はdefaultListLimit、1からmaxListLimitの範囲外や数値以外はエラーを返す。
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, model.NewInvalidLimitError(raw, maxListLimit)
	}
	return n, nil
}
