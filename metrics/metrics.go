// Package metrics exposes the Prometheus collectors used across the
// Discovery Reconciler, Incremental Window Aggregator, Sweep Planner,
// Batch-Copy Launcher, and Restore Resolver, plus a printable/JSON Report
// for one-shot CLI invocations that have no scrape target.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SourcesDiscovered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaultsweep_sources_discovered",
			Help: "Number of source containers discovered by the last tag-scan, by criticality tier",
		},
		[]string{"tier"},
	)

	DiscoveryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_discovery_errors_total",
			Help: "Total per-source reconciliation errors encountered by the Discovery Reconciler",
		},
		[]string{"source"},
	)

	WindowGroupsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_window_groups_processed_total",
			Help: "Total (tier, source, window) groups committed by the Incremental Window Aggregator",
		},
		[]string{"tier", "source"},
	)

	WindowGroupsSkippedIdempotent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_window_groups_skipped_total",
			Help: "Total window groups skipped because the window marker already existed",
		},
		[]string{"tier", "source"},
	)

	QueueMessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultsweep_queue_messages_failed_total",
			Help: "Total queue messages reported failed for partial retry",
		},
	)

	ManifestRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_manifest_rows_written_total",
			Help: "Total manifest rows written, by source",
		},
		[]string{"source"},
	)

	ManifestWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultsweep_manifest_write_duration_seconds",
			Help:    "Time taken to stream and finalize a manifest",
			Buckets: prometheus.DefBuckets,
		},
	)

	ManifestIntegrityRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultsweep_manifest_integrity_retries_total",
			Help: "Total integrity-tag verification retries during manifest finalization",
		},
	)

	SweepRowsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_sweep_rows_emitted_total",
			Help: "Total manifest rows emitted by the Sweep Planner, by source and mode",
		},
		[]string{"source", "mode"},
	)

	SweepFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_sweep_fallbacks_total",
			Help: "Total sweeps that fell back to direct listing because no enumeration descriptor existed",
		},
		[]string{"source"},
	)

	BatchCopyJobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_batch_copy_jobs_submitted_total",
			Help: "Total batch-copy jobs submitted, by tier and mode",
		},
		[]string{"tier", "mode"},
	)

	BatchCopyIntegrityRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultsweep_batch_copy_integrity_retries_total",
			Help: "Total batch-copy submissions retried after an integrity-tag mismatch",
		},
	)

	RestoreObjectsCopied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsweep_restore_objects_copied_total",
			Help: "Total objects restored, by source",
		},
		[]string{"source"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultsweep_restore_duration_seconds",
			Help:    "Time taken for a restore invocation to complete",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		SourcesDiscovered,
		DiscoveryErrorsTotal,
		WindowGroupsProcessed,
		WindowGroupsSkippedIdempotent,
		QueueMessagesFailed,
		ManifestRowsWritten,
		ManifestWriteDuration,
		ManifestIntegrityRetries,
		SweepRowsEmitted,
		SweepFallbacksTotal,
		BatchCopyJobsSubmitted,
		BatchCopyIntegrityRetries,
		RestoreObjectsCopied,
		RestoreDuration,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
