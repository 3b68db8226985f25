package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// webhookPayload はDiscord互換のWebhook本文。
type webhookPayload struct {
	Content string `json:"content"`
}

// WebhookChannel は1つのWebhook URLへ通知をPOSTするチャネル。
type WebhookChannel struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
}

// NewWebhookChannel はWebhookChannelを生成する。
func NewWebhookChannel(httpClient *http.Client, logger *slog.Logger, url string) *WebhookChannel {
	return &WebhookChannel{
		httpClient: httpClient,
		logger:     logger,
		url:        url,
	}
}

// Name はチャネル名を返す。
func (c *WebhookChannel) Name() string { return "webhook" }

// Recipients は設定されたWebhookを唯一の宛先として返す。
func (c *WebhookChannel) Recipients(_ context.Context) ([]string, error) {
	return []string{"default"}, nil
}

// Send は通知を1行のテキストとしてPOSTする。2xx以外は失敗として扱う。
func (c *WebhookChannel) Send(ctx context.Context, _ string, msg Message) error {
	body, err := json.Marshal(webhookPayload{Content: msg.Text()})
	if err != nil {
		return fmt.Errorf("Webhook本文の生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Webhookがエラーを返しました",
			slog.Int64("change_id", msg.ChangeID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("response", string(snippet)),
		)
		return fmt.Errorf("Webhookが予期しないステータスを返しました: %d", resp.StatusCode)
	}

	return nil
}

var _ Channel = (*WebhookChannel)(nil)
