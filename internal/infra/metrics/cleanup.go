package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cleanupRemovedTotal) }

var cleanupRemovedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cleanup_removed_total",
		Help: "Stale entries removed by the cleanup worker, labeled by kind.",
	},
	[]string{"kind"}, // 'temp_file', 'rate_window'
)

func AddCleanupRemoved(kind string, n int) {
	cleanupRemovedTotal.WithLabelValues(norm(kind)).Add(float64(n))
}
