package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, jobRetriesTotal, jobDuration, jobsInFlight, jobsScheduledTotal)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transcription_jobs_processed_total",
		Help: "Total number of transcription jobs that reached a terminal state, labeled by state.",
	},
	[]string{"state"}, // 'succeeded', 'failed'
)

var jobRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transcription_job_retries_total",
		Help: "Retries scheduled, labeled by failure reason.",
	},
	[]string{"reason"},
)

var jobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "transcription_job_attempt_seconds",
		Help:    "Wall time of a single execution attempt.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	},
	[]string{"outcome"},
)

var jobsInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "transcription_jobs_in_flight",
		Help: "Execution attempts currently running in this process.",
	},
)

var jobsScheduledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "transcription_jobs_scheduled_total",
		Help: "Jobs created and handed to the queue.",
	},
)

func IncJobProcessed(state string) {
	jobsProcessedTotal.WithLabelValues(norm(state)).Inc()
}

func IncJobRetry(reason string) {
	jobRetriesTotal.WithLabelValues(norm(reason)).Inc()
}

func ObserveJobAttempt(outcome string, d time.Duration) {
	jobDuration.WithLabelValues(norm(outcome)).Observe(d.Seconds())
}

func JobStarted()  { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }

func IncJobScheduled() { jobsScheduledTotal.Inc() }
