package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/resultwatch/internal/model"
)

// ResultReader はダッシュボードが参照する結果の読み取りインターフェース。
type ResultReader interface {
	ListActive(ctx context.Context) ([]model.ActiveRecord, error)
	ListTimeline(ctx context.Context) ([]model.TimelineRecord, error)
}

// ChangeReader は変更履歴の読み取りインターフェース。
type ChangeReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.ChangeLogEntry, error)
}

// RunReader は同期実行履歴の読み取りインターフェース。
type RunReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// ResultHandler はダッシュボード向けの参照APIのHTTPハンドラー。
type ResultHandler struct {
	results ResultReader
	changes ChangeReader
	runs    RunReader
}

// NewResultHandler はResultHandlerを生成する。
func NewResultHandler(results ResultReader, changes ChangeReader, runs RunReader) *ResultHandler {
	return &ResultHandler{
		results: results,
		changes: changes,
		runs:    runs,
	}
}

// listResponse は一覧APIの共通レスポンス。
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newListResponse[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

// ListResults は現在アクティブな結果を日付の降順で返す。
// GET /api/results
func (h *ResultHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	records, err := h.results.ListActive(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(records))
}

// ListTimeline はこれまでに観測された全ての組を返す。
// GET /api/timeline
func (h *ResultHandler) ListTimeline(w http.ResponseWriter, r *http.Request) {
	records, err := h.results.ListTimeline(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(records))
}

// ListChanges は直近の変更履歴を新しい順に返す。
// GET /api/changes?limit=50
func (h *ResultHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	entries, err := h.changes.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(entries))
}

// ListRuns は直近の同期実行を新しい順に返す。
// GET /api/runs?limit=50
func (h *ResultHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(runs))
}
