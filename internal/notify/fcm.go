package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/resultwatch/internal/repository"
)

const (
	// fcmScope はFCM HTTP v1 APIの送信に必要なOAuth2スコープ。
	fcmScope = "https://www.googleapis.com/auth/firebase.messaging"
	// fcmEndpointFormat はFCM HTTP v1 APIの送信エンドポイント。
	fcmEndpointFormat = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
)

// fcmRequest はmessages:sendのリクエスト本文。
type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      fcmAndroid        `json:"android"`
	Webpush      fcmWebpush        `json:"webpush"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

type fcmWebpush struct {
	Headers map[string]string `json:"headers"`
}

// fcmErrorResponse はFCMのエラー応答。
type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// FCMChannel は登録済みの全デバイストークンへFCM HTTP v1 APIでプッシュ通知を送るチャネル。
type FCMChannel struct {
	httpClient *http.Client
	tokens     repository.TokenRepository
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewFCMChannel はサービスアカウントの認証情報からFCMChannelを生成する。
// アクセストークンの取得と更新にはbaseのHTTPクライアントを使う。
func NewFCMChannel(
	ctx context.Context,
	projectID string,
	credentialsJSON []byte,
	base *http.Client,
	tokens repository.TokenRepository,
	logger *slog.Logger,
) (*FCMChannel, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("FCM認証情報の読み込みに失敗しました: %w", err)
	}

	return newFCMChannel(oauth2.NewClient(ctx, creds.TokenSource), tokens, logger,
		fmt.Sprintf(fcmEndpointFormat, projectID)), nil
}

func newFCMChannel(httpClient *http.Client, tokens repository.TokenRepository, logger *slog.Logger, endpoint string) *FCMChannel {
	return &FCMChannel{
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Name はチャネル名を返す。
func (c *FCMChannel) Name() string { return "fcm" }

// Recipients は登録済みのデバイストークンを返す。
func (c *FCMChannel) Recipients(ctx context.Context) ([]string, error) {
	tokens, err := c.tokens.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗しました: %w", err)
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Token)
	}
	return out, nil
}

// Send はデバイストークン1件へプッシュ通知を送る。
// FCMがトークンの登録解除を報告した場合はトークンを削除してErrRecipientGoneを返す。
func (c *FCMChannel) Send(ctx context.Context, token string, msg Message) error {
	payload := fcmRequest{
		Message: fcmMessage{
			Token: token,
			Notification: fcmNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: map[string]string{
				"change_id":     strconv.FormatInt(msg.ChangeID, 10),
				"change_type":   string(msg.ChangeType),
				"course_name":   msg.Subject,
				"result_date":   msg.Date,
				"previous_date": msg.PreviousDate,
			},
			Android: fcmAndroid{Priority: "high"},
			Webpush: fcmWebpush{Headers: map[string]string{"Urgency": "high"}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("FCMリクエスト本文の生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("FCMへの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if isUnregistered(resp.StatusCode, respBody) {
		if _, err := c.tokens.Delete(ctx, token); err != nil {
			return fmt.Errorf("登録解除されたトークンの削除に失敗しました: %w", err)
		}
		c.logger.Info("登録解除されたデバイストークンを削除しました",
			slog.String("token_prefix", tokenPrefix(token)),
			slog.Int("http_status", resp.StatusCode),
		)
		return ErrRecipientGone
	}

	c.logger.Error("FCMがエラーを返しました",
		slog.Int64("change_id", msg.ChangeID),
		slog.String("token_prefix", tokenPrefix(token)),
		slog.Int("http_status", resp.StatusCode),
		slog.String("response", string(respBody)),
	)
	return fmt.Errorf("FCMが予期しないステータスを返しました: %d", resp.StatusCode)
}

// isUnregistered はFCMのエラー応答がトークンの無効化を示すかどうかを判定する。
// 404 UNREGISTERED と、トークン形式不正による 400 INVALID_ARGUMENT が対象。
func isUnregistered(status int, body []byte) bool {
	var e fcmErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}

	for _, d := range e.Error.Details {
		if d.ErrorCode == "UNREGISTERED" {
			return true
		}
	}

	return status == http.StatusBadRequest &&
		e.Error.Status == "INVALID_ARGUMENT" &&
		strings.Contains(strings.ToLower(e.Error.Message), "registration token")
}

// tokenPrefix はログ出力用にトークンの先頭だけを返す。
func tokenPrefix(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}

var _ Channel = (*FCMChannel)(nil)
