package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/worker/syncjob"
)

const maxTriggerBodySize = 1 << 10

// TriggerHandler は同期を手動で1回実行するHTTPハンドラー。
type TriggerHandler struct {
	runner syncjob.Runner
	secret string
}

// NewTriggerHandler はTriggerHandlerを生成する。
// secretが空の場合はどのキーも受け付けない。
func NewTriggerHandler(runner syncjob.Runner, secret string) *TriggerHandler {
	return &TriggerHandler{
		runner: runner,
		secret: secret,
	}
}

type triggerRequest struct {
	Key string `json:"key"`
}

type changeView struct {
	Subject      string `json:"course_name"`
	ResultDate   string `json:"result_date,omitempty"`
	PreviousDate string `json:"previous_date,omitempty"`
}

type triggerResponse struct {
	Run     model.SyncRun `json:"run"`
	Added   []changeView  `json:"added"`
	Updated []changeView  `json:"updated"`
	Removed []changeView  `json:"removed"`
	Skipped int           `json:"skipped"`
}

// Trigger はキーを検証して同期を1回実行し、その結果を返す。
// POST /api/trigger
//
// キー不一致は401、別の同期が実行中の場合は409、スナップショットが空で中止した場合は422を返す。
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTriggerBodySize)

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !h.validKey(req.Key) {
		handleServiceError(w, model.NewInvalidTriggerKeyError())
		return
	}

	out, err := h.runner.Run(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, model.ErrSyncInProgress):
		handleServiceError(w, model.NewSyncInProgressError())
		return
	case model.IsAbort(err):
		handleServiceError(w, model.NewEmptySnapshotError(err.Error()))
		return
	default:
		slog.Error("手動同期に失敗しました", slog.String("error", err.Error()))
		handleServiceError(w, model.NewSyncFailedError())
		return
	}

	writeJSON(w, http.StatusOK, newTriggerResponse(out))
}

func (h *TriggerHandler) validKey(key string) bool {
	if h.secret == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.secret)) == 1
}

func newTriggerResponse(out *syncjob.Outcome) triggerResponse {
	resp := triggerResponse{
		Run:     out.Run,
		Added:   make([]changeView, 0, len(out.Changes.Added)),
		Updated: make([]changeView, 0, len(out.Changes.Updated)),
		Removed: make([]changeView, 0, len(out.Changes.Removed)),
		Skipped: len(out.Skipped),
	}
	for _, k := range out.Changes.Added {
		resp.Added = append(resp.Added, changeView{Subject: k.Subject, ResultDate: k.Date.String()})
	}
	for _, c := range out.Changes.Updated {
		resp.Updated = append(resp.Updated, changeView{Subject: c.Subject, ResultDate: c.To.String(), PreviousDate: c.From.String()})
	}
	for _, k := range out.Changes.Removed {
		resp.Removed = append(resp.Removed, changeView{Subject: k.Subject, PreviousDate: k.Date.String()})
	}
	return resp
}
