// Package metrics exposes Prometheus collectors for the job queue, the
// library rescan notifier and the deduplicator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs reaching a final outcome by type and status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubedrop_jobs_total",
			Help: "Jobs reaching a final status",
		},
		[]string{"type", "status"},
	)

	// JobAttemptsTotal counts worker attempts by type and result
	JobAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubedrop_job_attempts_total",
			Help: "Download attempts started by workers",
		},
		[]string{"type", "result"},
	)

	// JobAttemptDuration tracks how long one attempt runs
	JobAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tubedrop_job_attempt_duration_seconds",
			Help:    "Duration of a single download attempt",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"type"},
	)

	// RetriesScheduled counts automatic retries
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubedrop_retries_scheduled_total",
			Help: "Automatic retries scheduled after a failed attempt",
		},
	)

	// ActiveWorkers tracks attempts currently running
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tubedrop_active_workers",
			Help: "Download attempts currently running",
		},
	)

	// RescanNotificationsTotal counts library rescan requests by result
	RescanNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubedrop_rescan_notifications_total",
			Help: "Library rescan notifications by result",
		},
		[]string{"result"},
	)

	DedupFilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubedrop_dedup_files_removed_total",
			Help: "Duplicate files deleted from disk",
		},
	)

	DedupRemovalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubedrop_dedup_removal_failures_total",
			Help: "Duplicate files that could not be deleted",
		},
	)

	DedupFilesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubedrop_dedup_files_skipped_total",
			Help: "Files skipped during a duplicate scan because they could not be read",
		},
	)
)

// Rescan results
const (
	RescanOK      = "ok"
	RescanFailed  = "failed"
	RescanSkipped = "skipped"
)

// RecordAttemptStart records a worker picking up a job
func RecordAttemptStart() {
	ActiveWorkers.Inc()
}

// RecordAttemptEnd records the end of one attempt
func RecordAttemptEnd(jobType, result string, duration time.Duration) {
	ActiveWorkers.Dec()
	JobAttemptsTotal.WithLabelValues(jobType, result).Inc()
	JobAttemptDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordJobFinished records a job reaching a terminal status
func RecordJobFinished(jobType, status string) {
	JobsTotal.WithLabelValues(jobType, status).Inc()
}

func RecordRetryScheduled() {
	RetriesScheduled.Inc()
}

func RecordRescan(result string) {
	RescanNotificationsTotal.WithLabelValues(result).Inc()
}

func RecordDedupRemoval(removed, failed int) {
	DedupFilesRemoved.Add(float64(removed))
	DedupRemovalFailures.Add(float64(failed))
}

func RecordDedupSkipped() {
	DedupFilesSkipped.Inc()
}
