// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthOutcome(operation, code string)
	RecordGatewayDecision(decision string)
	RecordBackendLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordBlogFetch(success bool)
	RecordContactsPurged(count int)
}

// ゲートウェイの判定結果ラベル。
const (
	DecisionPass       = "pass"
	DecisionRedirect   = "redirect"
	DecisionFailOpen   = "fail_open"
	DecisionFailClosed = "fail_closed"
	DecisionRefreshed  = "refreshed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOutcome     *prometheus.CounterVec
	gatewayDecision *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	blogFetch       *prometheus.CounterVec
	contactsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melodia_auth_outcome_total",
			Help: "認証操作の結果別件数",
		}, []string{"operation", "code"}),
		gatewayDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melodia_gateway_decision_total",
			Help: "セッションゲートウェイの判定結果別件数",
		}, []string{"decision"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "melodia_auth_backend_latency_seconds",
			Help:    "認証バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melodia_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		blogFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melodia_blog_fetch_total",
			Help: "ブログRSS取得の結果別件数",
		}, []string{"result"}),
		contactsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "melodia_contacts_purged_total",
			Help: "削除された対応済みお問い合わせの合計数",
		}),
	}

	reg.MustRegister(
		c.authOutcome,
		c.gatewayDecision,
		c.backendLatency,
		c.httpStatus,
		c.blogFetch,
		c.contactsPurged,
	)

	return c
}

// RecordAuthOutcome は認証操作の結果を記録する。codeは成功時"success"。
func (c *Collector) RecordAuthOutcome(operation, code string) {
	c.authOutcome.WithLabelValues(operation, code).Inc()
}

// RecordGatewayDecision はゲートウェイの判定を記録する。
func (c *Collector) RecordGatewayDecision(decision string) {
	c.gatewayDecision.WithLabelValues(decision).Inc()
}

// RecordBackendLatency は認証バックエンド呼び出しのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(operation string, duration time.Duration) {
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBlogFetch はRSS取得の成否を記録する。
func (c *Collector) RecordBlogFetch(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.blogFetch.WithLabelValues(result).Inc()
}

// RecordContactsPurged は削除したお問い合わせ件数を記録する。
func (c *Collector) RecordContactsPurged(count int) {
	c.contactsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストや未設定時に使用する。
type Nop struct{}

func (Nop) RecordAuthOutcome(string, string)           {}
func (Nop) RecordGatewayDecision(string)               {}
func (Nop) RecordBackendLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                       {}
func (Nop) RecordBlogFetch(bool)                       {}
func (Nop) RecordContactsPurged(int)                   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
