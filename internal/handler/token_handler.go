package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/hitoshi/resultwatch/internal/model"
)

const (
	// maxTokenLength はFCMトークンとして受け付ける最大長。
	maxTokenLength = 4096
	// maxTokenBodySize はトークン登録リクエストのボディ上限。
	maxTokenBodySize = 8 << 10
)

// TokenStore はデバイストークンの登録・削除インターフェース。
type TokenStore interface {
	Register(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) (bool, error)
}

// TokenHandler はプッシュ通知用デバイストークンのHTTPハンドラー。
type TokenHandler struct {
	store TokenStore
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(store TokenStore) *TokenHandler {
	return &TokenHandler{store: store}
}

// tokenRequest はトークン登録・削除リクエストのボディ。
type tokenRequest struct {
	Token string `json:"token"`
}

// Register はデバイストークンを登録する。登録済みの場合は最終確認日時を更新する。
// POST /api/tokens
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	token, apiErr := decodeToken(w, r)
	if apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	if err := h.store.Register(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unregister はデバイストークンを削除する。
// DELETE /api/tokens
func (h *TokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	token, apiErr := decodeToken(w, r)
	if apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	deleted, err := h.store.Delete(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !deleted {
		handleServiceError(w, model.NewTokenNotFoundError())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeToken はリクエストボディからトークンを取り出して検証する。
func decodeToken(w http.ResponseWriter, r *http.Request) (string, *model.APIError) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenBodySize)

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", model.NewInvalidTokenError("リクエストボディが不正です")
	}

	token := strings.TrimSpace(req.Token)
	switch {
	case token == "":
		return "", model.NewInvalidTokenError("トークンが空です")
	case len(token) > maxTokenLength:
		return "", model.NewInvalidTokenError("トークンが長すぎます")
	case strings.IndexFunc(token, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return "", model.NewInvalidTokenError("トークンに使用できない文字が含まれています")
	}
	return token, nil
}
