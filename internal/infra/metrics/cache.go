package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(cacheRequestsTotal, cacheFailuresTotal, cacheRetriesTotal, cacheReconnectsTotal)
}

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Tracks cache hits and misses by key family.",
	},
	[]string{"cache", "result"}, // e.g., cache="result", result="hit"
)

var cacheFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_operation_failures_total",
		Help: "Cache operations that failed after exhausting retries, or on serialization.",
	},
	[]string{"op", "reason"},
)

var cacheRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_retries_total",
		Help: "Retry attempts made after transient cache errors.",
	},
	[]string{"op"},
)

var cacheReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cache_reconnects_total",
		Help: "Times the cache client was torn down after a failed health probe.",
	},
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncCacheFailure(op, reason string) {
	cacheFailuresTotal.WithLabelValues(norm(op), norm(reason)).Inc()
}

func IncCacheRetry(op string) {
	cacheRetriesTotal.WithLabelValues(norm(op)).Inc()
}

func IncCacheReconnect() { cacheReconnectsTotal.Inc() }
