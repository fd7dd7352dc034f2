// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// リフレッシュ結果のラベル値。
const (
	RefreshRotated  = "rotated"
	RefreshRejected = "rejected"
	RefreshReplayed = "replayed"
)

// AuthRecorder は認証・プロフィール更新のサービス層から利用するメトリクスのインターフェース。
type AuthRecorder interface {
	RecordLogin(success bool)
	RecordTokenRefresh(outcome string)
	RecordUpload(kind string, ok bool, duration time.Duration)
}

// HTTPRecorder はHTTPミドルウェアから利用するメトリクスのインターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// CleanupRecorder はクリーンアップワーカーから利用するメトリクスのインターフェース。
type CleanupRecorder interface {
	RecordTokensCleared(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadLatency  prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	tokensCleared  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanhub_logins_total",
			Help: "ログイン試行の合計数（result別）",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanhub_token_refresh_total",
			Help: "リフレッシュトークンによる再発行の合計数（outcome別）",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanhub_media_uploads_total",
			Help: "メディアアップロードの合計数（kind, result別）",
		}, []string{"kind", "result"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chanhub_media_upload_latency_seconds",
			Help:    "メディアアップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_refresh_tokens_cleared_total",
			Help: "期限切れで消去されたリフレッシュトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.tokenRefreshes,
		c.uploads,
		c.uploadLatency,
		c.httpStatus,
		c.tokensCleared,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	c.logins.WithLabelValues(resultLabel(success)).Inc()
}

// RecordTokenRefresh はリフレッシュの結果（rotated/rejected/replayed）を記録する。
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordUpload はメディアアップロードの結果とレイテンシを記録する。
func (c *Collector) RecordUpload(kind string, ok bool, duration time.Duration) {
	c.uploads.WithLabelValues(kind, resultLabel(ok)).Inc()
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensCleared は消去したリフレッシュトークン数を記録する。
func (c *Collector) RecordTokensCleared(count int64) {
	c.tokensCleared.Add(float64(count))
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Nop は何も記録しないレコーダー。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(bool)                         {}
func (Nop) RecordTokenRefresh(string)                {}
func (Nop) RecordUpload(string, bool, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                     {}
func (Nop) RecordTokensCleared(int64)                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ AuthRecorder    = (*Collector)(nil)
	_ HTTPRecorder    = (*Collector)(nil)
	_ CleanupRecorder = (*Collector)(nil)
	_ AuthRecorder    = Nop{}
	_ HTTPRecorder    = Nop{}
	_ CleanupRecorder = Nop{}
)
