package snapshot

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/resultwatch/internal/model"
)

// Snapshot は1回のスクレイプで観測された (科目名, 日付) の組の集合。
// 順序を持たず、重複は自動的にまとめられる。
type Snapshot map[model.ResultKey]struct{}

// Of は組の列からSnapshotを生成する。主にテスト用。
func Of(keys ...model.ResultKey) Snapshot {
	s := make(Snapshot, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Contains は組が含まれるかどうかを返す。
func (s Snapshot) Contains(k model.ResultKey) bool {
	_, ok := s[k]
	return ok
}

// BySubject は科目名ごとの日付集合に組み替える。
func (s Snapshot) BySubject() map[string][]model.Date {
	out := make(map[string][]model.Date)
	for k := range s {
		out[k.Subject] = append(out[k.Subject], k.Date)
	}
	return out
}

// Keys は組を科目名、日付の順に並べたスライスを返す。
func (s Snapshot) Keys() []model.ResultKey {
	keys := make([]model.ResultKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	model.SortKeys(keys)
	return keys
}

// SkipReason はレコードを除外した理由。
type SkipReason string

const (
	SkipEmptySubject   SkipReason = "empty_subject"
	SkipSubjectTooLong SkipReason = "subject_too_long"
	SkipEmptyDate      SkipReason = "empty_date"
	SkipInvalidDate    SkipReason = "invalid_date"
)

// MaxSubjectLength は科目名の最大文字数。results.subject_name の VARCHAR(512) に合わせる。
const MaxSubjectLength = 512

// SkippedRecord は除外されたレコードとその理由。
type SkippedRecord struct {
	Record model.RawRecord
	Reason SkipReason
	Err    error
}

// BuildResult はBuildの結果。
type BuildResult struct {
	Snapshot Snapshot
	// Raw は入力レコード数（重複を含む）。
	Raw     int
	Skipped []SkippedRecord
}

// Validate はスナップショットを同期に適用してよいかどうかを判定する。
// 入力が0件の場合はmodel.ErrNoRecords、有効な組が0件の場合はmodel.ErrEmptySnapshotを返す。
func (r BuildResult) Validate() error {
	if r.Raw == 0 {
		return model.ErrNoRecords
	}
	if len(r.Snapshot) == 0 {
		return fmt.Errorf("%w: all %d records were skipped", model.ErrEmptySnapshot, r.Raw)
	}
	return nil
}

// Builder は未加工のレコードからSnapshotを構築する。
type Builder struct {
	logger *slog.Logger
}

// NewBuilder は新しいBuilderを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build は既定のロガーでレコードを正規化する。
func Build(records []model.RawRecord) BuildResult {
	return NewBuilder(nil).Build(records)
}

// Build は各レコードの科目名を整形し日付を正規化して、組の集合を返す。
// 科目名または日付が空のレコード、科目名が長すぎるレコード、日付を解釈できないレコードは
// 除外してWARNログに記録する。
// 除外は同期全体を失敗させない。
func (b *Builder) Build(records []model.RawRecord) BuildResult {
	result := BuildResult{
		Snapshot: make(Snapshot, len(records)),
		Raw:      len(records),
	}

	for _, rec := range records {
		subject := strings.TrimSpace(rec.Subject)
		if subject == "" {
			result.skip(b.logger, rec, SkipEmptySubject, nil)
			continue
		}
		if n := utf8.RuneCountInString(subject); n > MaxSubjectLength {
			result.skip(b.logger, rec, SkipSubjectTooLong,
				fmt.Errorf("subject has %d characters, limit is %d", n, MaxSubjectLength))
			continue
		}
		if strings.TrimSpace(rec.DateRaw) == "" {
			result.skip(b.logger, rec, SkipEmptyDate, nil)
			continue
		}
		date, err := NormalizeDate(rec.DateRaw)
		if err != nil {
			result.skip(b.logger, rec, SkipInvalidDate, err)
			continue
		}
		result.Snapshot[model.ResultKey{Subject: subject, Date: date}] = struct{}{}
	}

	return result
}

func (r *BuildResult) skip(logger *slog.Logger, rec model.RawRecord, reason SkipReason, err error) {
	r.Skipped = append(r.Skipped, SkippedRecord{Record: rec, Reason: reason, Err: err})
	attrs := []any{
		"subject", rec.Subject,
		"result_date", rec.DateRaw,
		"reason", string(reason),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	logger.Warn("skipping malformed record", attrs...)
}
