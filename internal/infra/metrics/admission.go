package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(admissionsTotal) }

var admissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admissions_total",
		Help: "Upload admission decisions, labeled by outcome (accepted, deduplicated or a rejection reason).",
	},
	[]string{"outcome"},
)

func IncAdmission(outcome string) {
	admissionsTotal.WithLabelValues(norm(outcome)).Inc()
}
