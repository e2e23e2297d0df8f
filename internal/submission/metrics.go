package submission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Metrics instruments endpoint traffic. A nil *Metrics records nothing.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	breakerState    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mef_endpoint_request_duration_seconds",
			Help:    "Latency of filing endpoint requests by operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mef_endpoint_retries_total",
			Help: "Retried filing endpoint requests by operation",
		}, []string{"op"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "mef_endpoint_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}),
	}
}

func (m *Metrics) observe(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(op, outcome).Observe(seconds)
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) breaker(state gobreaker.State) {
	if m == nil {
		return
	}
	switch state {
	case gobreaker.StateClosed:
		m.breakerState.Set(0)
	case gobreaker.StateHalfOpen:
		m.breakerState.Set(1)
	case gobreaker.StateOpen:
		m.breakerState.Set(2)
	}
}
