package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/resultwatch/internal/metrics"
	"github.com/hitoshi/resultwatch/internal/repository"
)

// DispatchConfig はディスパッチャーの設定パラメータ。
type DispatchConfig struct {
	// Interval はworkerモードでの実行間隔（デフォルト: 1分）。
	Interval time.Duration
	// BatchSize は1サイクルで処理する変更履歴の最大件数（デフォルト: 100）。
	BatchSize int
}

// DispatchStats は1サイクルの処理結果。
type DispatchStats struct {
	Pending   int
	Completed int
	Delivered int
	Failed    int
	Gone      int
}

// Dispatcher は未通知の変更履歴を全チャネルの全宛先へ配信する。
// 宛先ごとの配信記録によって冪等であり、同期ジョブと並行して動作してよい。
type Dispatcher struct {
	changes  repository.ChangeLogRepository
	channels []Channel
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   DispatchConfig

	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	changes repository.ChangeLogRepository,
	channels []Channel,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config DispatchConfig,
) *Dispatcher {
	return &Dispatcher{
		changes:  changes,
		channels: channels,
		metrics:  collector,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はディスパッチャーをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.logger.Info("通知ディスパッチャーを開始しました",
		slog.Duration("interval", d.config.Interval),
		slog.Int("batch_size", d.config.BatchSize),
		slog.Int("channels", len(d.channels)),
	)

	// 起動直後に1回実行
	d.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("通知ディスパッチャーを停止しました")
			return
		case <-ticker.C:
			d.runAndLog(ctx)
		}
	}
}

func (d *Dispatcher) runAndLog(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("通知ディスパッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// recipientSet はチャネルとその現在の宛先。
type recipientSet struct {
	channel Channel
	ids     []string
	gone    map[string]struct{}
	err     error
}

// RunOnce は1回のディスパッチサイクルを実行する。
// 変更履歴ごとに未配信の宛先へ送信し、全宛先への配信が揃った行をnotification_sent = trueにする。
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	start := d.now()

	// バックオフ中の場合はスキップ
	if !d.backoffUntil.IsZero() && start.Before(d.backoffUntil) {
		d.logger.Info("通知ディスパッチャーはバックオフ中のためスキップします",
			slog.Time("backoff_until", d.backoffUntil),
		)
		return stats, nil
	}

	if len(d.channels) == 0 {
		d.logger.Warn("通知チャネルが設定されていないため配信をスキップします")
		return stats, nil
	}

	pending, err := d.changes.ListPending(ctx, d.config.BatchSize)
	if err != nil {
		d.updateBackoff(true)
		return stats, fmt.Errorf("未通知の変更履歴の取得に失敗しました: %w", err)
	}
	stats.Pending = len(pending)
	d.metrics.RecordPendingNotifications(len(pending))

	if len(pending) == 0 {
		d.updateBackoff(false)
		d.logger.Debug("未通知の変更履歴はありません")
		return stats, nil
	}

	// storeFailed は宛先一覧や配信記録といった基盤側の失敗の有無。
	// 個々の宛先への送信失敗は次のサイクルで再送するだけで、バックオフの対象にしない。
	storeFailed := false

	// 宛先はサイクル開始時点のものを使う
	sets := make([]*recipientSet, 0, len(d.channels))
	for _, ch := range d.channels {
		ids, err := ch.Recipients(ctx)
		if err != nil {
			d.logger.Error("宛先の取得に失敗しました",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()),
			)
			stats.Failed++
			storeFailed = true
		}
		sets = append(sets, &recipientSet{channel: ch, ids: ids, gone: make(map[string]struct{}), err: err})
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		delivered, err := d.changes.ListDelivered(ctx, entry.ID)
		if err != nil {
			d.updateBackoff(true)
			return stats, fmt.Errorf("配信記録の取得に失敗しました: %w", err)
		}

		msg := FormatMessage(entry)
		complete := true

		for _, set := range sets {
			if set.err != nil {
				complete = false
				continue
			}
			for _, id := range set.ids {
				if _, ok := set.gone[id]; ok {
					continue
				}
				key := recipientKey(set.channel, id)
				if _, ok := delivered[key]; ok {
					continue
				}

				err := set.channel.Send(ctx, id, msg)
				switch {
				case errors.Is(err, ErrRecipientGone):
					set.gone[id] = struct{}{}
					stats.Gone++
					continue
				case err != nil:
					d.logger.Error("通知の配信に失敗しました",
						slog.Int64("change_id", entry.ID),
						slog.String("channel", set.channel.Name()),
						slog.String("subject", entry.Subject),
						slog.String("change_type", string(entry.ChangeType)),
						slog.String("error", err.Error()),
					)
					d.metrics.RecordDelivery(set.channel.Name(), false)
					stats.Failed++
					complete = false
					continue
				}

				d.metrics.RecordDelivery(set.channel.Name(), true)
				stats.Delivered++

				if err := d.changes.RecordDelivery(ctx, entry.ID, key); err != nil {
					d.logger.Error("配信記録の保存に失敗しました",
						slog.Int64("change_id", entry.ID),
						slog.String("channel", set.channel.Name()),
						slog.String("error", err.Error()),
					)
					stats.Failed++
					storeFailed = true
					complete = false
				}
			}
		}

		if !complete {
			continue
		}

		if err := d.changes.MarkSent(ctx, entry.ID); err != nil {
			d.logger.Error("通知済みフラグの更新に失敗しました",
				slog.Int64("change_id", entry.ID),
				slog.String("error", err.Error()),
			)
			stats.Failed++
			storeFailed = true
			continue
		}
		stats.Completed++
	}

	d.updateBackoff(storeFailed)

	d.logger.Info("通知ディスパッチサイクルが完了しました",
		slog.Int("pending", stats.Pending),
		slog.Int("completed", stats.Completed),
		slog.Int("delivered", stats.Delivered),
		slog.Int("failed", stats.Failed),
		slog.Int("gone", stats.Gone),
		slog.Float64("duration_ms", float64(d.now().Sub(start).Milliseconds())),
	)

	return stats, nil
}

// updateBackoff は基盤側の失敗の有無に応じて連続エラー回数とバックオフ期限を更新する。
func (d *Dispatcher) updateBackoff(hadError bool) {
	if !hadError {
		d.consecutiveErrors = 0
		d.backoffUntil = time.Time{}
		return
	}

	d.consecutiveErrors++
	backoff := calculateErrorBackoff(d.consecutiveErrors)
	if backoff > 0 {
		d.backoffUntil = d.now().Add(backoff)
		d.logger.Warn("連続エラーによりバックオフを適用します",
			slog.Int("consecutive_errors", d.consecutiveErrors),
			slog.Duration("backoff_duration", backoff),
		)
	}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
