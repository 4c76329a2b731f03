package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the verification flow.
type Metrics struct {
	Submitted      prometheus.Counter
	Verifications  *prometheus.CounterVec
	Resends        prometheus.Counter
	Expirations    prometheus.Counter
	RedeemFailures *prometheus.CounterVec
}

// New creates and registers the verification metrics.
func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "schoolreg_applications_submitted_total",
			Help: "Total number of school applications submitted",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolreg_verifications_total",
			Help: "Successful token redemptions by purpose",
		}, []string{"purpose"}),
		Resends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "schoolreg_verification_resends_total",
			Help: "Total number of verification re-issues",
		}),
		Expirations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "schoolreg_applications_expired_total",
			Help: "Applications expired by the token sweep",
		}),
		RedeemFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolreg_token_redeem_failures_total",
			Help: "Failed token redemptions by error kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.Submitted.Inc()
	}
}

func (m *Metrics) IncVerification(purpose string) {
	if m != nil {
		m.Verifications.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) IncResend() {
	if m != nil {
		m.Resends.Inc()
	}
}

func (m *Metrics) IncExpired() {
	if m != nil {
		m.Expirations.Inc()
	}
}

func (m *Metrics) IncRedeemFailure(kind string) {
	if m != nil {
		m.RedeemFailures.WithLabelValues(kind).Inc()
	}
}
