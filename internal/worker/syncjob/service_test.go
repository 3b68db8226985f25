package syncjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/reconcile"
	"github.com/hitoshi/resultwatch/internal/repository"
)

// --- モック定義 ---

// mockScraper はResultScraperのテスト用モック。
type mockScraper struct {
	records []model.RawRecord
	err     error
	// block が設定されている場合、Scrapeはstartedへ通知してからblockが閉じられるまで待つ。
	block   chan struct{}
	started chan struct{}
}

func (m *mockScraper) Scrape(ctx context.Context) ([]model.RawRecord, error) {
	if m.block != nil {
		if m.started != nil {
			close(m.started)
		}
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.records, m.err
}

// fakeStore はSyncStoreのインメモリ実装。コミットされた差分だけがviewに反映される。
type fakeStore struct {
	mu   sync.Mutex
	view model.ActiveView
	runs []model.SyncRun
	log  []model.Changeset

	beginCalls    int
	rollbackCalls int
	beginErr      error
	applyErr      error
	commitErr     error
	recordErr     error
	// sawDeadline はBeginSyncに渡されたコンテキストに期限があったかどうか。
	sawDeadline bool
}

func newFakeStore(keys ...model.ResultKey) *fakeStore {
	return &fakeStore{view: model.NewActiveView(keys...)}
}

func (s *fakeStore) BeginSync(ctx context.Context) (repository.SyncTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginCalls++
	_, s.sawDeadline = ctx.Deadline()
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) RecordRun(_ context.Context, run *model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.runs = append(s.runs, *run)
	return nil
}

type fakeTx struct {
	store   *fakeStore
	pending *model.Changeset
	run     *model.SyncRun
	done    bool
}

func (t *fakeTx) ActiveView(_ context.Context) (model.ActiveView, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return reconcile.Apply(t.store.view, model.Changeset{}), nil
}

func (t *fakeTx) Apply(_ context.Context, cs model.Changeset, run *model.SyncRun) error {
	if t.store.applyErr != nil {
		return t.store.applyErr
	}
	t.pending = &cs
	copied := *run
	t.run = &copied
	return nil
}

func (t *fakeTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	if t.pending != nil {
		t.store.view = reconcile.Apply(t.store.view, *t.pending)
		t.store.log = append(t.store.log, *t.pending)
		t.store.runs = append(t.store.runs, *t.run)
	}
	t.done = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if !t.done {
		t.store.rollbackCalls++
	}
	return nil
}

func key(subject, date string) model.ResultKey {
	return model.ResultKey{Subject: subject, Date: model.MustParseDate(date)}
}

func newTestService(scraper ResultScraper, store repository.SyncStore) (*Service, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewService(scraper, store, metrics.NewCollector(prometheus.NewRegistry()), logger, 5*time.Second)
	s.newRunID = func() string { return "3b241101-e2bb-4255-8caf-4136c566a962" }
	return s, &buf
}

// --- テスト ---

func TestService_Run_FirstRunAddsEverything(t *testing.T) {
	scraper := &mockScraper{records: []model.RawRecord{
		{Subject: "B.E.", DateRaw: "08- November- 2025"},
		{Subject: " M.B.A. ", DateRaw: "01-Nov-2025"},
		{Subject: "B.E.", DateRaw: "8-nov-2025"}, // 重複
	}}
	store := newFakeStore()
	s, _ := newTestService(scraper, store)

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if out.Run.Status != model.SyncSucceeded {
		t.Errorf("Status = %s, want succeeded", out.Run.Status)
	}
	if out.Run.RawCount != 3 || out.Run.ValidCount != 2 || out.Run.SkippedCount != 0 {
		t.Errorf("counts = raw %d valid %d skipped %d", out.Run.RawCount, out.Run.ValidCount, out.Run.SkippedCount)
	}
	if out.Run.Added != 2 || len(out.Changes.Added) != 2 {
		t.Errorf("Added = %d, want 2", out.Run.Added)
	}
	if out.Run.ID != "3b241101-e2bb-4255-8caf-4136c566a962" {
		t.Errorf("run ID = %q", out.Run.ID)
	}
	if !store.view.Contains(key("M.B.A.", "2025-11-01")) || !store.view.Contains(key("B.E.", "2025-11-08")) {
		t.Error("コミット後の状態に追加された組が含まれるべき")
	}
	if len(store.runs) != 1 || store.runs[0].Status != model.SyncSucceeded {
		t.Errorf("成功した実行がトランザクション内で記録されるべき: %+v", store.runs)
	}
}

// 前回 {(A,2025-11-08), (B,2025-11-01)}、今回 {(A,2025-11-08), (B,2025-11-09), (C,2025-11-10)}
func TestService_Run_UpdateScenario(t *testing.T) {
	scraper := &mockScraper{records: []model.RawRecord{
		{Subject: "A", DateRaw: "08-November-2025"},
		{Subject: "B", DateRaw: "09-November-2025"},
		{Subject: "C", DateRaw: "10-November-2025"},
	}}
	store := newFakeStore(key("A", "2025-11-08"), key("B", "2025-11-01"))
	s, buf := newTestService(scraper, store)

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	want := model.ChangeCounts{Added: 1, Updated: 1, Removed: 0, Unchanged: 1}
	if out.Run.ChangeCounts != want {
		t.Errorf("ChangeCounts = %+v, want %+v", out.Run.ChangeCounts, want)
	}
	if len(out.Changes.Updated) != 1 || out.Changes.Updated[0].From != model.MustParseDate("2025-11-01") {
		t.Errorf("Updated = %+v", out.Changes.Updated)
	}
	if store.view.Contains(key("B", "2025-11-01")) {
		t.Error("更新前の組は非アクティブになるべき")
	}

	// 変更ごとにrun_id付きのログが出力される
	logs := buf.String()
	if !strings.Contains(logs, `"change_type":"updated"`) || !strings.Contains(logs, `"run_id":"3b241101-e2bb-4255-8caf-4136c566a962"`) {
		t.Errorf("変更ログにchange_typeとrun_idが含まれるべき: %s", logs)
	}
}

func TestService_Run_EmptySnapshotNeverTouchesStore(t *testing.T) {
	tests := []struct {
		name    string
		records []model.RawRecord
		wantErr error
	}{
		{"レコード0件", nil, model.ErrNoRecords},
		{"全件不正", []model.RawRecord{
			{Subject: "", DateRaw: "01-Jan-2025"},
			{Subject: "A", DateRaw: ""},
			{Subject: "B", DateRaw: "31-February-2025"},
		}, model.ErrEmptySnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(key("A", "2025-11-08"), key("B", "2025-11-01"))
			s, _ := newTestService(&mockScraper{records: tt.records}, store)

			out, err := s.Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("エラー = %v, want %v", err, tt.wantErr)
			}
			if !model.IsAbort(err) {
				t.Error("IsAbort = false, want true")
			}
			if store.beginCalls != 0 {
				t.Errorf("BeginSync 呼び出し回数 = %d, want 0", store.beginCalls)
			}
			if store.view.Len() != 2 {
				t.Errorf("アクティブな組の数 = %d, want 2（状態は変わらないべき）", store.view.Len())
			}
			if out.Run.Status != model.SyncAborted {
				t.Errorf("Status = %s, want aborted", out.Run.Status)
			}
			if len(store.runs) != 1 || store.runs[0].Status != model.SyncAborted {
				t.Errorf("中止した実行が記録されるべき: %+v", store.runs)
			}
			if store.runs[0].SkippedCount != len(tt.records) {
				t.Errorf("SkippedCount = %d, want %d", store.runs[0].SkippedCount, len(tt.records))
			}
		})
	}
}

func TestService_Run_SkippedRecordsAreReported(t *testing.T) {
	scraper := &mockScraper{records: []model.RawRecord{
		{Subject: "A", DateRaw: "08-November-2025"},
		{Subject: "B", DateRaw: "08-Smarch-2025"},
	}}
	s, _ := newTestService(scraper, newFakeStore())

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if out.Run.SkippedCount != 1 || len(out.Skipped) != 1 {
		t.Errorf("SkippedCount = %d, Skipped = %d, want 1", out.Run.SkippedCount, len(out.Skipped))
	}
	if out.Skipped[0].Record.Subject != "B" {
		t.Errorf("Skipped[0] = %+v", out.Skipped[0])
	}
}

func TestService_Run_LockBusy(t *testing.T) {
	store := newFakeStore(key("A", "2025-11-08"))
	store.beginErr = model.ErrSyncInProgress
	s, _ := newTestService(&mockScraper{records: []model.RawRecord{{Subject: "A", DateRaw: "09-Nov-2025"}}}, store)

	_, err := s.Run(context.Background())
	if !errors.Is(err, model.ErrSyncInProgress) {
		t.Fatalf("エラー = %v, want ErrSyncInProgress", err)
	}
	if len(store.runs) != 0 {
		t.Errorf("ロック競合では実行を記録しない: %+v", store.runs)
	}
	if !store.view.Contains(key("A", "2025-11-08")) {
		t.Error("状態は変わらないべき")
	}
}

func TestService_Run_TransactionFailureRollsBack(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeStore)
	}{
		{"Apply失敗", func(s *fakeStore) { s.applyErr = errors.New("unique violation") }},
		{"Commit失敗", func(s *fakeStore) { s.commitErr = errors.New("connection reset") }},
		{"BeginSync失敗", func(s *fakeStore) { s.beginErr = errors.New("pool exhausted") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(key("A", "2025-11-08"))
			tt.setup(store)
			s, _ := newTestService(&mockScraper{records: []model.RawRecord{{Subject: "A", DateRaw: "09-Nov-2025"}}}, store)

			out, err := s.Run(context.Background())
			if err == nil {
				t.Fatal("エラーが返るべき")
			}
			if model.IsAbort(err) || errors.Is(err, model.ErrSyncInProgress) {
				t.Errorf("トランザクション失敗は中止やロック競合と区別されるべき: %v", err)
			}
			if !store.view.Contains(key("A", "2025-11-08")) || store.view.Contains(key("A", "2025-11-09")) {
				t.Error("失敗時は状態が変わらないべき")
			}
			if store.beginErr == nil && store.rollbackCalls != 1 {
				t.Errorf("Rollback 呼び出し回数 = %d, want 1", store.rollbackCalls)
			}
			if out.Run.Status != model.SyncFailed || out.Changes.HasChanges() {
				t.Errorf("Outcome = %+v", out.Run)
			}
			if len(store.runs) != 1 || store.runs[0].Status != model.SyncFailed || store.runs[0].ErrorMessage == "" {
				t.Errorf("失敗した実行が記録されるべき: %+v", store.runs)
			}
		})
	}
}

func TestService_Run_ScrapeFailureRecordsFailedRun(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestService(&mockScraper{err: errors.New("HTTPステータス 503")}, store)

	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("エラーが返るべき")
	}
	if store.beginCalls != 0 {
		t.Error("スクレイプ失敗時はトランザクションを開始しない")
	}
	if len(store.runs) != 1 || store.runs[0].Status != model.SyncFailed {
		t.Errorf("失敗した実行が記録されるべき: %+v", store.runs)
	}
}

func TestService_Run_RecordRunFailureDoesNotMaskError(t *testing.T) {
	store := newFakeStore()
	store.recordErr = errors.New("db down")
	s, buf := newTestService(&mockScraper{}, store)

	_, err := s.Run(context.Background())
	if !errors.Is(err, model.ErrNoRecords) {
		t.Fatalf("エラー = %v, want ErrNoRecords", err)
	}
	if !strings.Contains(buf.String(), "同期実行の記録に失敗しました") {
		t.Error("記録の失敗はログに出力されるべき")
	}
}

func TestService_Run_UsesDBTimeout(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestService(&mockScraper{records: []model.RawRecord{{Subject: "A", DateRaw: "01-Jan-2025"}}}, store)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !store.sawDeadline {
		t.Error("トランザクションのコンテキストには期限が設定されるべき")
	}
}

func TestService_Run_IdempotentSecondRun(t *testing.T) {
	scraper := &mockScraper{records: []model.RawRecord{
		{Subject: "A", DateRaw: "08-November-2025"},
		{Subject: "B", DateRaw: "09-November-2025"},
	}}
	store := newFakeStore()
	s, _ := newTestService(scraper, store)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() がエラーを返した: %v", err)
	}
	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
	if out.Changes.HasChanges() {
		t.Errorf("同じスナップショットの再適用で変更が出てはならない: %+v", out.Run.ChangeCounts)
	}
	if out.Run.Unchanged != 2 {
		t.Errorf("Unchanged = %d, want 2", out.Run.Unchanged)
	}
}

func TestService_Run_ConcurrentCallIsRejected(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	scraper := &mockScraper{
		records: []model.RawRecord{{Subject: "A", DateRaw: "01-Jan-2025"}},
		block:   block,
		started: started,
	}
	s, _ := newTestService(scraper, newFakeStore())

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("1回目の同期が開始されなかった")
	}

	out, err := s.Run(context.Background())
	if !errors.Is(err, model.ErrSyncInProgress) {
		t.Errorf("エラー = %v, want ErrSyncInProgress", err)
	}
	if out != nil {
		t.Errorf("重複実行ではOutcomeを返さない: %+v", out)
	}

	close(block)
	if err := <-done; err != nil {
		t.Errorf("1回目の Run() がエラーを返した: %v", err)
	}
}

func TestOutcome_MarshalsRun(t *testing.T) {
	s, _ := newTestService(&mockScraper{records: []model.RawRecord{{Subject: "A", DateRaw: "01-Jan-2025"}}}, newFakeStore())
	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	b, err := json.Marshal(out.Run)
	if err != nil {
		t.Fatalf("json.Marshal() がエラーを返した: %v", err)
	}
	if !strings.Contains(string(b), `"added":1`) || !strings.Contains(string(b), `"status":"succeeded"`) {
		t.Errorf("JSON = %s", b)
	}
}
