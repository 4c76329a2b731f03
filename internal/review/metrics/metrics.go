package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the admin review flow.
type Metrics struct {
	Decisions            *prometheus.CounterVec
	ProvisioningFailures prometheus.Counter
	ProvisioningDuration prometheus.Histogram
	ConcurrencyLosses    prometheus.Counter
}

// New creates and registers the review metrics.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolreg_review_decisions_total",
			Help: "Final review decisions by outcome",
		}, []string{"decision"}),
		ProvisioningFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "schoolreg_provisioning_failures_total",
			Help: "Approvals aborted by a provisioning failure",
		}),
		ProvisioningDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "schoolreg_provisioning_duration_seconds",
			Help:    "Duration of tenant provisioning calls",
			Buckets: prometheus.DefBuckets,
		}),
		ConcurrencyLosses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "schoolreg_review_concurrency_losses_total",
			Help: "Review actions rejected by the optimistic concurrency guard",
		}),
	}
}

func (m *Metrics) IncDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncProvisioningFailure() {
	if m != nil {
		m.ProvisioningFailures.Inc()
	}
}

func (m *Metrics) ObserveProvisioningDuration(seconds float64) {
	if m != nil {
		m.ProvisioningDuration.Observe(seconds)
	}
}

func (m *Metrics) IncConcurrencyLoss() {
	if m != nil {
		m.ConcurrencyLosses.Inc()
	}
}
