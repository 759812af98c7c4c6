package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the council's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	GatewayCalls      *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec
	Deliberations     *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	RejectedRankings  *prometheus.CounterVec
	SelfPreference    *prometheus.CounterVec
	AuditSinkFailures prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_gateway_calls_total",
				Help: "Backend calls by model, stage and outcome",
			},
			[]string{"model", "stage", "outcome"},
		),
		GatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "council_gateway_latency_seconds",
				Help:    "Latency of backend calls including retries",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"model", "stage"},
		),
		Deliberations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_deliberations_total",
				Help: "Finished deliberations by terminal state and failure reason",
			},
			[]string{"state", "reason"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "council_stage_duration_seconds",
				Help:    "Wall-clock time spent in each deliberation stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		RejectedRankings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_rejected_rankings_total",
				Help: "Judge votes dropped by kind",
			},
			[]string{"kind"},
		),
		SelfPreference: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_self_preference_total",
				Help: "Judges that ranked their own response first",
			},
			[]string{"model"},
		),
		AuditSinkFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "council_audit_sink_failures_total",
				Help: "Audit trails that could not be persisted",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "council_active_sessions",
				Help: "Deliberations currently running in this process",
			},
		),
	}

	m.registry.MustRegister(
		m.GatewayCalls,
		m.GatewayLatency,
		m.Deliberations,
		m.StageDuration,
		m.RejectedRankings,
		m.SelfPreference,
		m.AuditSinkFailures,
		m.ActiveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveGatewayCall(model, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(model, stage, outcome).Inc()
	m.GatewayLatency.WithLabelValues(model, stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) DeliberationFinished(state, reason string) {
	if m == nil {
		return
	}
	m.Deliberations.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) RankingRejected(kind string) {
	if m == nil {
		return
	}
	m.RejectedRankings.WithLabelValues(kind).Inc()
}

func (m *Metrics) SelfPreferenceDetected(model string) {
	if m == nil {
		return
	}
	m.SelfPreference.WithLabelValues(model).Inc()
}

func (m *Metrics) AuditSinkFailed() {
	if m == nil {
		return
	}
	m.AuditSinkFailures.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
