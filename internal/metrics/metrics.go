package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the moderation pipeline.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Provider attempt latency by stage, provider and outcome
	StageLatency *prometheus.HistogramVec

	// Completed stages by route
	StageRoute *prometheus.CounterVec

	// Decisions by action
	Decisions *prometheus.CounterVec

	// Escalation gate triggers by reason
	Escalations *prometheus.CounterVec

	// External search invocations by outcome
	ExternalSearches *prometheus.CounterVec

	// Whole-run latency
	RunLatency prometheus.Histogram
}

// New registers every pipeline collector with reg.
// Passing nil registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_stage_attempt_duration_seconds",
			Help:    "Duration of provider attempts by stage, provider and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage", "provider", "outcome"}), // outcome: "ok", "error", "timeout"

		StageRoute: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_stage_routes_total",
			Help: "Completed stages by route taken",
		}, []string{"stage", "route"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decisions_total",
			Help: "Decisions by action",
		}, []string{"action"}),

		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_escalations_total",
			Help: "Escalation gate triggers by reason",
		}, []string{"reason"}),

		ExternalSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_external_searches_total",
			Help: "External evidence searches by outcome",
		}, []string{"outcome"}),

		RunLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdict_run_duration_seconds",
			Help:    "Duration of complete pipeline runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// ObserveAttempt records one provider attempt.
func (m *Metrics) ObserveAttempt(stage, provider, outcome string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage, provider, outcome).Observe(d.Seconds())
	}
}

// IncrementRoute records the route a completed stage took.
func (m *Metrics) IncrementRoute(stage, route string) {
	if m != nil {
		m.StageRoute.WithLabelValues(stage, route).Inc()
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(action string) {
	if m != nil {
		m.Decisions.WithLabelValues(action).Inc()
	}
}

// IncrementEscalation records a gate trigger.
func (m *Metrics) IncrementEscalation(reason string) {
	if m != nil {
		m.Escalations.WithLabelValues(reason).Inc()
	}
}

// IncrementExternalSearch records an external search outcome.
func (m *Metrics) IncrementExternalSearch(outcome string) {
	if m != nil {
		m.ExternalSearches.WithLabelValues(outcome).Inc()
	}
}

// ObserveRun records the total run duration.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.RunLatency.Observe(d.Seconds())
	}
}
