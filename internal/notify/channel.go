package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrRecipientGone は宛先が既に存在しないことを示す。
// 配信失敗としては扱わず、その宛先は以降の配信対象から外す。
var ErrRecipientGone = errors.New("宛先が登録解除されています")

// Channel は通知の配信経路。
type Channel interface {
	// Name はチャネル名。配信記録の宛先キーとメトリクスのラベルに使う。
	Name() string

	// Recipients は現在の宛先IDを返す。
	Recipients(ctx context.Context) ([]string, error)

	// Send は宛先1件へ通知を送る。
	Send(ctx context.Context, recipient string, msg Message) error
}

// recipientKey はnotification_deliveries.recipientに保存する宛先キーを返す。
func recipientKey(ch Channel, recipient string) string {
	return ch.Name() + ":" + recipient
}

// DryRunChannel は通知を送らずに内容を出力するチャネル。
type DryRunChannel struct {
	w io.Writer
}

// NewDryRunChannel はDryRunChannelを生成する。
func NewDryRunChannel(w io.Writer) *DryRunChannel {
	return &DryRunChannel{w: w}
}

// Name はチャネル名を返す。
func (c *DryRunChannel) Name() string { return "dryrun" }

// Recipients は標準出力のみを宛先とする。
func (c *DryRunChannel) Recipients(_ context.Context) ([]string, error) {
	return []string{"stdout"}, nil
}

// Send は通知内容を出力する。
func (c *DryRunChannel) Send(_ context.Context, _ string, msg Message) error {
	_, err := fmt.Fprintf(c.w, "--- Notification #%d (%s) ---\n%s\n\n", msg.ChangeID, msg.ChangeType, msg.Text())
	return err
}

var _ Channel = (*DryRunChannel)(nil)
