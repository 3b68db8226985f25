// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/resultwatch/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期ジョブと通知ディスパッチャーから利用する。
type MetricsCollector interface {
	RecordSyncOutcome(status model.SyncStatus)
	RecordSyncLatency(duration time.Duration)
	RecordChanges(counts model.ChangeCounts)
	RecordSkippedRecords(count int)
	RecordDelivery(channel string, success bool)
	RecordPendingNotifications(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns     *prometheus.CounterVec
	syncLatency  prometheus.Histogram
	changes      *prometheus.CounterVec
	skipped      prometheus.Counter
	deliveries   *prometheus.CounterVec
	pendingGauge prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resultwatch_sync_runs_total",
			Help: "結果別の同期実行数",
		}, []string{"status"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resultwatch_sync_duration_seconds",
			Help:    "同期1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resultwatch_changes_total",
			Help: "変更種別ごとの検出件数",
		}, []string{"change_type"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resultwatch_skipped_records_total",
			Help: "不正な形式のため除外されたレコードの合計数",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resultwatch_notification_deliveries_total",
			Help: "チャネルと結果別の通知配信数",
		}, []string{"channel", "result"}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resultwatch_pending_notifications",
			Help: "直近のディスパッチ開始時点で未通知だった変更履歴の件数",
		}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncLatency,
		c.changes,
		c.skipped,
		c.deliveries,
		c.pendingGauge,
	)

	return c
}

// RecordSyncOutcome は同期の結果を記録する。
func (c *Collector) RecordSyncOutcome(status model.SyncStatus) {
	c.syncRuns.WithLabelValues(string(status)).Inc()
}

// RecordSyncLatency は同期の所要時間を記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordChanges は適用した変更件数を記録する。unchangedは数えない。
func (c *Collector) RecordChanges(counts model.ChangeCounts) {
	c.changes.WithLabelValues(string(model.ChangeAdded)).Add(float64(counts.Added))
	c.changes.WithLabelValues(string(model.ChangeUpdated)).Add(float64(counts.Updated))
	c.changes.WithLabelValues(string(model.ChangeRemoved)).Add(float64(counts.Removed))
}

// RecordSkippedRecords は除外したレコード数を記録する。
func (c *Collector) RecordSkippedRecords(count int) {
	c.skipped.Add(float64(count))
}

// RecordDelivery は通知配信の成否を記録する。
func (c *Collector) RecordDelivery(channel string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.deliveries.WithLabelValues(channel, result).Inc()
}

// RecordPendingNotifications は未通知件数を記録する。
func (c *Collector) RecordPendingNotifications(count int) {
	c.pendingGauge.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerモードではAPIサーバーを持たないため、このハンドラーだけを公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ MetricsCollector = (*Collector)(nil)
