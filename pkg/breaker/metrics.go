package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_breaker_rejections_total",
			Help: "Gateway calls rejected locally by a circuit breaker.",
		},
		[]string{"reason"},
	)
	stateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_breaker_state_changes_total",
			Help: "Circuit breaker transitions by target state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(rejectionsTotal, stateChangesTotal)
}
