package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle counters, one per stage a download job passes through.
	DownloadsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_started_total",
			Help: "Total number of download jobs started",
		},
	)

	DownloadsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_queued_total",
			Help: "Total number of download jobs that waited for an admission slot",
		},
	)

	DownloadsAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_admitted_total",
			Help: "Total number of download jobs granted an admission slot",
		},
	)

	DownloadsResumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_resumed_total",
			Help: "Total number of download jobs resumed from a partial artifact",
		},
	)

	DownloadsCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_canceled_total",
			Help: "Total number of download jobs canceled before completion",
		},
	)

	DownloadsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_completed_total",
			Help: "Total number of download jobs that completed with a verified artifact",
		},
	)

	DownloadsCompletedCached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_completed_cached_total",
			Help: "Total number of download jobs short-circuited by an existing CAS entry",
		},
	)

	DownloadsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_downloads_errors_total",
			Help: "Total number of download jobs that ended in error, by failure code",
		},
		[]string{"code"},
	)

	DownloadsCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_downloads_coalesced_total",
			Help: "Total number of requests that joined an in-flight download instead of starting a new one",
		},
	)

	BytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_bytes_downloaded_total",
			Help: "Total number of payload bytes received across all downloads",
		},
	)

	// Preflight gate outcomes.
	PreflightOK = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_preflight_ok_total",
			Help: "Total number of preflight checks that allowed a download to proceed",
		},
	)

	PreflightDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_preflight_denied_total",
			Help: "Total number of preflight checks that denied a download, by reason",
		},
		[]string{"reason"},
	)

	PreflightSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_preflight_skipped_total",
			Help: "Total number of preflight checks skipped because the source did not support HEAD or the HEAD request failed",
		},
	)

	// Concurrency and throughput gauges.
	ConcurrencyConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_concurrency_configured_max",
			Help: "Currently configured maximum concurrent downloads",
		},
	)

	ConcurrencyHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_concurrency_held_permits",
			Help: "Admission permits currently held by in-flight downloads",
		},
	)

	ThroughputEWMAMbps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_throughput_ewma_mbps",
			Help: "Exponentially weighted moving average of observed download throughput in MiB/s (gauge/field name kept as mbps for wire compatibility)",
		},
	)

	CatalogEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steward_catalog_entries_total",
			Help: "Total number of catalog entries by status",
		},
		[]string{"status"},
	)

	// CAS and GC metrics.
	CASGCSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_cas_gc_sweeps_total",
			Help: "Total number of content-addressed store garbage collection sweeps run",
		},
	)

	CASGCBytesReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_cas_gc_bytes_reclaimed_total",
			Help: "Total number of bytes reclaimed by content-addressed store garbage collection",
		},
	)

	CASBytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_cas_bytes_stored",
			Help: "Total number of bytes currently held in the content-addressed store",
		},
	)

	// Egress ledger metrics.
	EgressLedgerAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_egress_ledger_appended_total",
			Help: "Total number of egress ledger entries appended, by decision",
		},
		[]string{"decision"},
	)

	// Operation latency.
	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_download_duration_seconds",
			Help:    "Wall-clock time from the start of a download job to its terminal outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	PreflightDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_preflight_duration_seconds",
			Help:    "Time taken to run a preflight HEAD probe",
			Buckets: prometheus.DefBuckets,
		},
	)

	CASGCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_cas_gc_duration_seconds",
			Help:    "Time taken for a content-addressed store garbage collection sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(DownloadsStarted)
	prometheus.MustRegister(DownloadsQueued)
	prometheus.MustRegister(DownloadsAdmitted)
	prometheus.MustRegister(DownloadsResumed)
	prometheus.MustRegister(DownloadsCanceled)
	prometheus.MustRegister(DownloadsCompleted)
	prometheus.MustRegister(DownloadsCompletedCached)
	prometheus.MustRegister(DownloadsErrors)
	prometheus.MustRegister(DownloadsCoalesced)
	prometheus.MustRegister(BytesTotal)

	prometheus.MustRegister(PreflightOK)
	prometheus.MustRegister(PreflightDenied)
	prometheus.MustRegister(PreflightSkipped)

	prometheus.MustRegister(ConcurrencyConfigured)
	prometheus.MustRegister(ConcurrencyHeld)
	prometheus.MustRegister(ThroughputEWMAMbps)
	prometheus.MustRegister(CatalogEntriesTotal)

	prometheus.MustRegister(CASGCSweeps)
	prometheus.MustRegister(CASGCBytesReclaimed)
	prometheus.MustRegister(CASBytesStored)

	prometheus.MustRegister(EgressLedgerAppended)

	prometheus.MustRegister(DownloadDuration)
	prometheus.MustRegister(PreflightDuration)
	prometheus.MustRegister(CASGCDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
