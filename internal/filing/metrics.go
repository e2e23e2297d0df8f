package filing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/efile/internal/ack"
)

// Metrics instruments the pipeline. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	filed         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	regressions   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filing_stage_duration_seconds",
			Help:    "Duration of each filing pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_stage_failures_total",
			Help: "Filings stopped at a pipeline stage",
		}, []string{"stage"}),
		filed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_returns_filed_total",
			Help: "Returns accepted for processing by the endpoint",
		}, []string{"mode"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_status_transitions_total",
			Help: "Acknowledgment status changes applied to the store",
		}, []string{"from", "to"}),
		regressions: f.NewCounter(prometheus.CounterOpts{
			Name: "filing_status_regressions_total",
			Help: "Reported statuses discarded because they would move a record backwards",
		}),
	}
}

func (m *Metrics) stage(stage Stage, seconds float64, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(seconds)
	if err != nil {
		m.stageFailures.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) filedReturn(testMode bool) {
	if m == nil {
		return
	}
	mode := "production"
	if testMode {
		mode = "test"
	}
	m.filed.WithLabelValues(mode).Inc()
}

func (m *Metrics) transition(from, to ack.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) regression() {
	if m == nil {
		return
	}
	m.regressions.Inc()
}
