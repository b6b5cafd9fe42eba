/*
Package metrics provides Prometheus instrumentation for the Model Steward.

Counters track the download lifecycle (started, queued, admitted, resumed,
canceled, completed, completed from cache, coalesced, errored by code) and
the preflight gate (ok, denied by reason, skipped). Gauges carry the state
a counter can't express: configured and held concurrency, the EWMA
throughput estimate, and per-status catalog entry counts. A Collector
samples the gauge-shaped state on a 15s tick from anything satisfying
Snapshotter, keeping pkg/metrics independent of pkg/models.

# Usage

	metrics.DownloadsStarted.Inc()
	metrics.DownloadsErrors.WithLabelValues("sha256_mismatch").Inc()

	timer := metrics.NewTimer()
	// ... run the download ...
	timer.ObserveDuration(metrics.DownloadDuration)

	collector := metrics.NewCollector(catalog)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

All metrics are registered once in init(); MustRegister panics on a
duplicate name, which is a deliberate fail-fast if this package is ever
imported twice under different names.
*/
package metrics
