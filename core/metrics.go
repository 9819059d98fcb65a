package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Key 轮换客户端的 Prometheus 指标
// nil *Metrics 可以安全调用，所有方法都是空操作
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	rotationsTotal  prometheus.Counter
	fetchTotal      *prometheus.CounterVec
}

// NewMetrics 在给定的 Registerer 上注册指标
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rail_gateway_attempts_total",
				Help: "Total number of upstream attempts by result",
			},
			[]string{"result"},
		),
		attemptDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rail_gateway_attempt_duration_seconds",
				Help:    "Duration of upstream attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		rotationsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "rail_gateway_key_rotations_total",
				Help: "Total number of API key rotations",
			},
		),
		fetchTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rail_gateway_fetch_total",
				Help: "Total number of fetch calls by final outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) recordAttempt(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
	m.attemptDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) recordRotation() {
	if m == nil {
		return
	}
	m.rotationsTotal.Inc()
}

func (m *Metrics) recordFetch(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.fetchTotal.WithLabelValues(outcome).Inc()
}
