package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 消費結果のラベル値。
const (
	statusOK           = "ok"
	statusFailed       = "failed"
	statusMalformed    = "malformed"
	statusSkipped      = "skipped"
	statusHandlerError = "handler_error"
)

// Metrics はイベント送受信のPrometheusメトリクス。
// nilのMetricsに対する呼び出しは何もしない。
type Metrics struct {
	produced *prometheus.CounterVec
	consumed *prometheus.CounterVec
	handler  *prometheus.HistogramVec
}

// NewMetrics はメトリクスを生成し、registererに登録する。
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		produced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "broker",
				Name:      "produced_records_total",
				Help:      "Total number of records produced",
			},
			[]string{"topic", "status"},
		),
		consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "broker",
				Name:      "consumed_records_total",
				Help:      "Total number of records consumed",
			},
			[]string{"topic", "status"},
		),
		handler: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventgate",
				Subsystem: "broker",
				Name:      "handler_duration_seconds",
				Help:      "Latency of event handler invocations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}
	registerer.MustRegister(m.produced, m.consumed, m.handler)
	return m
}

func (m *Metrics) observeProduced(topic, status string) {
	if m == nil {
		return
	}
	m.produced.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) observeConsumed(topic, status string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) observeHandler(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.handler.WithLabelValues(topic).Observe(d.Seconds())
}
