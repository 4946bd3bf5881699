// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mermaidboard"

// ログイン結果・トークン検証結果のラベル値
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeValid    = "valid"
	OutcomeRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordLogin(method, outcome string)
	RecordTokenVerification(outcome string)
	RecordAuditFailure()
	RecordPurged(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	auditFailures prometheus.Counter
	purged        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTPリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "ログイン方式・結果別のログイン試行数",
		}, []string{"method", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_verifications_total",
			Help:      "アクセストークン検証の結果別件数",
		}, []string{"outcome"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "書き込みに失敗した監査ログの件数",
		}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_rows_total",
			Help:      "期限切れとして削除された行数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.logins,
		c.verifications,
		c.auditFailures,
		c.purged,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエスト1件を記録する。routeはパスパターンを渡す。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordTokenVerification はアクセストークン検証結果を記録する。
func (c *Collector) RecordTokenVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordAuditFailure は監査ログの書き込み失敗を記録する。
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// RecordPurged は期限切れ行の削除件数を記録する。
func (c *Collector) RecordPurged(kind string, count int64) {
	c.purged.WithLabelValues(kind).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordLogin(string, string)                           {}
func (Nop) RecordTokenVerification(string)                       {}
func (Nop) RecordAuditFailure()                                  {}
func (Nop) RecordPurged(string, int64)                           {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
