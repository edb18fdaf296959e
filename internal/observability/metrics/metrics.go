package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepup_verifications_total",
			Help: "Total number of step-up verification attempts.",
		},
		[]string{"method", "result"},
	)

	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepup_enrollments_total",
			Help: "Total number of enrollment operations.",
		},
		[]string{"operation", "result"},
	)

	GatedActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepup_gated_actions_total",
			Help: "Total number of gated action evaluations.",
		},
		[]string{"action", "outcome"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepup_rate_limit_rejections_total",
			Help: "Total number of requests rejected by rate limiting.",
		},
		[]string{"endpoint"},
	)
)

// MustRegister registers all collectors with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		VerificationsTotal,
		EnrollmentsTotal,
		GatedActionsTotal,
		RateLimitRejectionsTotal,
	)
}
