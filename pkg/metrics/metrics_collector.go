package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// KV 存储指标
	kvOperationDuration *prometheus.HistogramVec
	kvOperationTotal    *prometheus.CounterVec

	// 账本业务指标
	redemptionsTotal   *prometheus.CounterVec
	grantsTotal        *prometheus.CounterVec
	consumptionsTotal  *prometheus.CounterVec
	webhooksTotal      *prometheus.CounterVec
	referralClaims     *prometheus.CounterVec
	reconciliationGaps *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		kvOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kv_operation_duration_seconds",
				Help:    "KV store operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),

		kvOperationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kv_operations_total",
				Help: "Total number of KV store operations",
			},
			[]string{"operation", "status"},
		),

		redemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_redemptions_total",
				Help: "Coupon redemption attempts by outcome",
			},
			[]string{"outcome"},
		),

		grantsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_grants_total",
				Help: "Quota grants by source and plan",
			},
			[]string{"source", "plan"},
		),

		consumptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_consumptions_total",
				Help: "Quota consumption checks by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payment_webhooks_total",
				Help: "Payment callbacks by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		referralClaims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_referral_claims_total",
				Help: "Referral claim attempts by outcome",
			},
			[]string{"outcome"},
		),

		reconciliationGaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_gaps_total",
				Help: "Payment reconciliation anomalies needing operator attention",
			},
			[]string{"reason"},
		),

		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operator_alerts_total",
				Help: "Operator alerts by delivery status",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordKVOperation 记录 KV 操作指标
func (m *MetricsCollector) RecordKVOperation(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.kvOperationTotal.WithLabelValues(operation, status).Inc()
	m.kvOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRedemption 记录兑换结果
func (m *MetricsCollector) RecordRedemption(outcome string) {
	m.redemptionsTotal.WithLabelValues(outcome).Inc()
}

// RecordGrant 记录额度发放
func (m *MetricsCollector) RecordGrant(source, plan string) {
	m.grantsTotal.WithLabelValues(source, plan).Inc()
}

// RecordConsumption 记录额度校验结果
func (m *MetricsCollector) RecordConsumption(kind, outcome string) {
	m.consumptionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordWebhook 记录支付回调处理结果
func (m *MetricsCollector) RecordWebhook(channel, outcome string) {
	m.webhooksTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordReferralClaim 记录邀请领取结果
func (m *MetricsCollector) RecordReferralClaim(outcome string) {
	m.referralClaims.WithLabelValues(outcome).Inc()
}

// RecordReconciliationGap 记录对账缺口
func (m *MetricsCollector) RecordReconciliationGap(reason string) {
	m.reconciliationGaps.WithLabelValues(reason).Inc()
}

// RecordAlert 记录告警投递结果
func (m *MetricsCollector) RecordAlert(status string) {
	m.alertsTotal.WithLabelValues(status).Inc()
}

// StatusCategory 获取状态分类
func StatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var (
	globalCollector *MetricsCollector
	initOnce        sync.Once
)

// GetGlobalCollector 获取全局指标收集器
func GetGlobalCollector() *MetricsCollector {
	initOnce.Do(func() {
		globalCollector = NewMetricsCollector(nil)
	})
	return globalCollector
}
