// Package scraper は結果一覧ページを取得し、テーブルの各行をRawRecordとして取り出す。
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/security"
)

// UserAgent は取得元がブラウザ以外を拒否するため、ブラウザと同じ形式にしている。
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// ErrFetchFailed は再試行しても結果一覧を取得できなかったことを示す。
var ErrFetchFailed = errors.New("結果一覧の取得に失敗しました")

// Options はスクレイパーの通信設定。
type Options struct {
	Timeout     time.Duration
	MaxBodySize int64
	MaxRetries  int
	RetryWait   time.Duration
}

// Scraper は結果一覧ページのHTTP取得とパースを行う。
type Scraper struct {
	clients   security.ClientFactory
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	sourceURL string
	opts      Options

	// sleep はテストで待機を省略するために差し替える。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScraper はScraperの新しいインスタンスを生成する。
func NewScraper(
	clients security.ClientFactory,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
	sourceURL string,
	opts Options,
) *Scraper {
	return &Scraper{
		clients:   clients,
		sanitizer: sanitizer,
		logger:    logger,
		sourceURL: sourceURL,
		opts:      opts,
		sleep:     sleepContext,
	}
}

// SourceURL は取得元URLを返す。
func (s *Scraper) SourceURL() string {
	return s.sourceURL
}

// Scrape は結果一覧ページを取得してRawRecordの列を返す。
// 通信エラー、429、5xxはMaxRetries回まで指数バックオフで再試行する。
// それ以外の4xxは再試行せずに失敗する。
func (s *Scraper) Scrape(ctx context.Context) ([]model.RawRecord, error) {
	p, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	// Content-Typeまたは<meta charset>に従ってUTF-8へ変換する。
	r, err := charset.NewReader(bytes.NewReader(p.body), p.contentType)
	if err != nil {
		return nil, fmt.Errorf("文字コードの判定に失敗: %w", err)
	}

	records, err := ParseTable(r, s.sanitizer)
	if err != nil {
		return nil, err
	}

	s.logger.Info("結果一覧を取得しました",
		slog.String("source_url", s.sourceURL),
		slog.Int("raw_count", len(records)),
		slog.Int("body_bytes", len(p.body)),
	)
	return records, nil
}

// page は取得したレスポンス本文とそのContent-Type。
type page struct {
	body        []byte
	contentType string
}

// fetch は再試行を含めてページ本文を取得する。
func (s *Scraper) fetch(ctx context.Context) (*page, error) {
	if err := s.clients.ValidateURL(s.sourceURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := s.clients.NewClient(s.opts.Timeout)

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := CalculateRetryWait(s.opts.RetryWait, attempt-1)
			s.logger.Warn("結果一覧の取得を再試行します",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", s.opts.MaxRetries),
				slog.Float64("wait_ms", float64(wait.Milliseconds())),
				slog.String("error", lastErr.Error()),
			)
			if err := s.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("再試行の待機中に中断されました: %w", err)
			}
		}

		p, retry, err := s.fetchOnce(ctx, client)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !retry {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
	}

	return nil, fmt.Errorf("%w: %d回再試行しました: %w", ErrFetchFailed, s.opts.MaxRetries, lastErr)
}

// fetchOnce は1回だけGETを実行する。
// 戻り値のretryは、失敗した場合に再試行する価値があるかどうかを示す。
func (s *Scraper) fetchOnce(ctx context.Context, client *http.Client) (*page, bool, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("HTTPリクエストが中断されました: %w", ctx.Err())
		}
		s.logger.Error("HTTPリクエストに失敗しました",
			slog.String("source_url", s.sourceURL),
			slog.String("error", err.Error()),
		)
		return nil, true, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultRetry:
		s.logger.Warn("一時的なエラー応答を受け取りました",
			slog.String("source_url", s.sourceURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil, true, fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	default:
		s.logger.Error("取得元がエラーを返しました",
			slog.String("source_url", s.sourceURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil, false, fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if s.opts.MaxBodySize > 0 {
		reader = io.LimitReader(resp.Body, s.opts.MaxBodySize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, true, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}
	if s.opts.MaxBodySize > 0 && int64(len(body)) > s.opts.MaxBodySize {
		return nil, false, fmt.Errorf("レスポンスサイズが上限 %d バイトを超えています", s.opts.MaxBodySize)
	}

	return &page{body: body, contentType: resp.Header.Get("Content-Type")}, false, nil
}
