package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the async core.
type Metrics struct {
	JobsEnqueued    *prometheus.CounterVec
	JobsCompleted   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	AITokensUsed    *prometheus.CounterVec
	AICostCents     prometheus.Counter
	AlertsGenerated *prometheus.CounterVec
	SnapshotsSaved  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dealguard_jobs_enqueued_total",
			Help: "Jobs accepted by the queue gateway, by kind and dedupe outcome",
		}, []string{"kind", "outcome"}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dealguard_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by kind and status",
		}, []string{"kind", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealguard_job_duration_seconds",
			Help:    "Wall-clock duration of handler execution per attempt",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
		AITokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dealguard_ai_tokens_total",
			Help: "Tokens consumed by AI provider calls, by direction",
		}, []string{"direction"}),
		AICostCents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dealguard_ai_cost_cents_total",
			Help: "Accumulated AI provider cost in cents",
		}),
		AlertsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dealguard_alerts_generated_total",
			Help: "Proactive alerts created, by severity",
		}, []string{"severity"}),
		SnapshotsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dealguard_risk_snapshots_total",
			Help: "Daily risk snapshots written",
		}),
	}
}

// ObserveAIUsage records token and cost counters for one provider call.
func (m *Metrics) ObserveAIUsage(inputTokens, outputTokens, costCents int) {
	m.AITokensUsed.WithLabelValues("input").Add(float64(inputTokens))
	m.AITokensUsed.WithLabelValues("output").Add(float64(outputTokens))
	m.AICostCents.Add(float64(costCents))
}
