package scraper

import (
	"context"
	"net/http"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultRetry は再試行すべきステータス（429/5xx）。
	FetchResultRetry
	// FetchResultFail は再試行しても回復しないステータス（429以外の4xx、3xxなど）。
	FetchResultFail
)

// maxRetryWait は再試行待機時間の上限。
const maxRetryWait = 2 * time.Minute

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusTooManyRequests:
		return FetchResultRetry
	case statusCode >= 500:
		return FetchResultRetry
	default:
		return FetchResultFail
	}
}

// CalculateRetryWait は試行回数に基づいて指数バックオフの待機時間を計算する。
// attempt=0 のとき base、以降2倍ずつ増加し maxRetryWait で頭打ちになる。
func CalculateRetryWait(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryWait {
			return maxRetryWait
		}
	}
	return delay
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合は即座にctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
