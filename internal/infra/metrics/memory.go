package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workerMemoryPercent, memoryEventsTotal) }

var workerMemoryPercent = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "worker_memory_percent",
		Help: "Last sampled resident memory of the worker as a percentage of its ceiling.",
	},
)

var memoryEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "worker_memory_events_total",
		Help: "Memory threshold crossings, labeled by level.",
	},
	[]string{"level"}, // 'warn', 'critical'
)

func SetWorkerMemoryPercent(p float64) { workerMemoryPercent.Set(p) }

func IncMemoryEvent(level string) {
	memoryEventsTotal.WithLabelValues(norm(level)).Inc()
}
