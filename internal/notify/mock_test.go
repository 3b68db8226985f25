package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/resultwatch/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockChangeLogRepo はChangeLogRepositoryのインメモリ実装。
type mockChangeLogRepo struct {
	mu         sync.Mutex
	entries    []model.ChangeLogEntry
	deliveries map[int64]map[string]struct{}

	listErr     error
	markSentErr error
	recordErr   error
}

func newMockChangeLogRepo(entries ...model.ChangeLogEntry) *mockChangeLogRepo {
	return &mockChangeLogRepo{
		entries:    entries,
		deliveries: make(map[int64]map[string]struct{}),
	}
}

func (m *mockChangeLogRepo) ListPending(_ context.Context, limit int) ([]model.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.ChangeLogEntry, 0)
	for _, e := range m.entries {
		if !e.NotificationSent {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockChangeLogRepo) ListRecent(_ context.Context, limit int) ([]model.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.ChangeLogEntry(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockChangeLogRepo) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markSentErr != nil {
		return m.markSentErr
	}
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].NotificationSent = true
			return nil
		}
	}
	return errors.New("not found")
}

func (m *mockChangeLogRepo) RecordDelivery(_ context.Context, changeID int64, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	if m.deliveries[changeID] == nil {
		m.deliveries[changeID] = make(map[string]struct{})
	}
	m.deliveries[changeID][recipient] = struct{}{}
	return nil
}

func (m *mockChangeLogRepo) ListDelivered(_ context.Context, changeID int64) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for k := range m.deliveries[changeID] {
		out[k] = struct{}{}
	}
	return out, nil
}

func (m *mockChangeLogRepo) sent(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e.NotificationSent
		}
	}
	return false
}

// mockTokenRepo はTokenRepositoryのインメモリ実装。
type mockTokenRepo struct {
	mu      sync.Mutex
	tokens  []string
	listErr error
	deleted []string
}

func (m *mockTokenRepo) Register(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t == token {
			return nil
		}
	}
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *mockTokenRepo) List(_ context.Context) ([]model.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.DeviceToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, model.DeviceToken{Token: t, CreatedAt: time.Now(), LastSeenAt: time.Now()})
	}
	return out, nil
}

func (m *mockTokenRepo) Delete(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tokens {
		if t == token {
			m.tokens = append(m.tokens[:i], m.tokens[i+1:]...)
			m.deleted = append(m.deleted, token)
			return true, nil
		}
	}
	return false, nil
}

// fakeChannel は送信内容を記録するChannel。
type fakeChannel struct {
	name       string
	recipients []string
	recipErr   error
	// failFor は送信を失敗させる宛先と返すエラー。
	failFor map[string]error
	sent    []sentMessage
}

type sentMessage struct {
	recipient string
	msg       Message
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Recipients(_ context.Context) ([]string, error) {
	return c.recipients, c.recipErr
}

func (c *fakeChannel) Send(_ context.Context, recipient string, msg Message) error {
	if err, ok := c.failFor[recipient]; ok {
		return err
	}
	c.sent = append(c.sent, sentMessage{recipient: recipient, msg: msg})
	return nil
}

func (c *fakeChannel) sentTo(recipient string) int {
	n := 0
	for _, s := range c.sent {
		if s.recipient == recipient {
			n++
		}
	}
	return n
}

func addedEntry(id int64, subject, date string) model.ChangeLogEntry {
	return model.ChangeLogEntry{
		ID:         id,
		RunID:      "run-1",
		Subject:    subject,
		Date:       model.SomeDate(model.MustParseDate(date)),
		ChangeType: model.ChangeAdded,
	}
}
