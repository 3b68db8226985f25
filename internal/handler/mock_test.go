package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/worker/syncjob"
)

// --- モック定義 ---

// mockResultReader はResultReaderのモック実装。
type mockResultReader struct {
	listActiveFn   func(ctx context.Context) ([]model.ActiveRecord, error)
	listTimelineFn func(ctx context.Context) ([]model.TimelineRecord, error)
}

func (m *mockResultReader) ListActive(ctx context.Context) ([]model.ActiveRecord, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockResultReader) ListTimeline(ctx context.Context) ([]model.TimelineRecord, error) {
	if m.listTimelineFn != nil {
		return m.listTimelineFn(ctx)
	}
	return nil, nil
}

// mockChangeReader はChangeReaderのモック実装。
type mockChangeReader struct {
	listRecentFn func(ctx context.Context, limit int) ([]model.ChangeLogEntry, error)
}

func (m *mockChangeReader) ListRecent(ctx context.Context, limit int) ([]model.ChangeLogEntry, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

// mockRunReader はRunReaderのモック実装。
type mockRunReader struct {
	listRecentFn func(ctx context.Context, limit int) ([]model.SyncRun, error)
}

func (m *mockRunReader) ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

// mockTokenStore はTokenStoreのモック実装。
type mockTokenStore struct {
	registerFn func(ctx context.Context, token string) error
	deleteFn   func(ctx context.Context, token string) (bool, error)
}

func (m *mockTokenStore) Register(ctx context.Context, token string) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, token)
	}
	return nil
}

func (m *mockTokenStore) Delete(ctx context.Context, token string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token)
	}
	return true, nil
}

// mockRunner はsyncjob.Runnerのモック実装。
type mockRunner struct {
	runFn func(ctx context.Context) (*syncjob.Outcome, error)
	calls int
}

func (m *mockRunner) Run(ctx context.Context) (*syncjob.Outcome, error) {
	m.calls++
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return &syncjob.Outcome{Run: model.SyncRun{Status: model.SyncSucceeded}}, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

func date(s string) model.Date {
	return model.MustParseDate(s)
}

// newTestRouter はモックを埋めたRouterDepsでルーターを構築する。
// overrideで個別の依存を差し替える。
func newTestRouter(t *testing.T, override func(*RouterDeps)) http.Handler {
	t.Helper()
	deps := &RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		HealthChecker:     &mockHealthChecker{},
		Results:           &mockResultReader{},
		Changes:           &mockChangeReader{},
		Runs:              &mockRunReader{},
		Feed:              FeedConfig{Link: "https://example.com/results"},
		Tokens:            &mockTokenStore{},
		SyncRunner:        &mockRunner{},
		TriggerSecret:     "s3cret",
	}
	if override != nil {
		override(deps)
	}
	return NewRouter(deps)
}

// doRequest はルーターにリクエストを送りレスポンスを返す。
func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var fixedTime = time.Date(2025, time.November, 8, 9, 30, 0, 0, time.UTC)
