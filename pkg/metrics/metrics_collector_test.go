package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollector(reg)

	m.RecordRedemption("success")
	m.RecordRedemption("success")
	m.RecordRedemption("conflict")
	m.RecordWebhook("epay", "duplicate")
	m.RecordKVOperation("get", time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.redemptionsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redemptionsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooksTotal.WithLabelValues("epay", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.kvOperationTotal.WithLabelValues("get", "error")))
}

func TestStatusCategory(t *testing.T) {
	assert.Equal(t, "2xx", StatusCategory(200))
	assert.Equal(t, "4xx", StatusCategory(409))
	assert.Equal(t, "5xx", StatusCategory(503))
	assert.Equal(t, "unknown", StatusCategory(0))
}

func TestGetGlobalCollector_Singleton(t *testing.T) {
	assert.Same(t, GetGlobalCollector(), GetGlobalCollector())
}
