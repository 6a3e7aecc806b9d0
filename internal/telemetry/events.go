// Package telemetry defines the typed events RBOP and POFP emit, and
// mirrors them onto Prometheus collectors for scraping. This is
// deliberately not a general tracing system (out of scope per design) —
// just the small, closed set of events the spec names.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/git-vfs/gitvfs/internal/gethlog"
)

var (
	rbopProcessedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitvfs",
		Subsystem: "rbop",
		Name:      "processed_total",
		Help:      "Cumulative background operations successfully processed by RBOP.",
	})
	rbopRemainingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitvfs",
		Subsystem: "rbop",
		Name:      "queue_remaining",
		Help:      "Advisory in-memory RBOP queue length at last progress log.",
	})
	fetchActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitvfs",
		Subsystem: "fetch",
		Name:      "active_downloads",
		Help:      "Object-fetcher downloads currently in flight.",
	})
	fetchBytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gitvfs",
		Subsystem: "fetch",
		Name:      "bytes_downloaded_total",
		Help:      "Cumulative bytes received across all fetch requests.",
	})
	fetchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gitvfs",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Object-fetch requests issued (loose + bulk).",
	})
	fetchHasFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitvfs",
		Subsystem: "fetch",
		Name:      "has_failures",
		Help:      "1 if any fetch request exhausted its retries since the last reset.",
	})
)

func init() {
	prometheus.MustRegister(
		rbopProcessedTotal,
		rbopRemainingGauge,
		fetchActiveDownloads,
		fetchBytesDownloaded,
		fetchRequestsTotal,
		fetchHasFailures,
	)
}

// EmitTaskProcessingStatus is RBOP's periodic progress event, emitted by
// the consumer every progressLogCadence processed items. It is not emitted
// at shutdown or at the end of a drain.
func EmitTaskProcessingStatus(processed, remaining uint64) {
	rbopProcessedTotal.Set(float64(processed))
	rbopRemainingGauge.Set(float64(remaining))
	gethlog.Info("TaskProcessingStatus", "processed", processed, "remaining", remaining)
}

// EmitDownloadHeartbeat is POFP's 20s heartbeat carrying the current
// active-download count.
func EmitDownloadHeartbeat(active int) {
	fetchActiveDownloads.Set(float64(active))
	gethlog.Info("DownloadHeartbeat", "active", active)
}

// EmitDownloadStopped is POFP's terminal event for a fetch job.
func EmitDownloadStopped(requestCount uint64, bytesDownloaded uint64, hasFailures bool) {
	fetchRequestsTotal.Add(float64(requestCount))
	if hasFailures {
		fetchHasFailures.Set(1)
	} else {
		fetchHasFailures.Set(0)
	}
	gethlog.Info("DownloadStopped", "requestCount", requestCount, "bytesDownloaded", bytesDownloaded, "hasFailures", hasFailures)
}

// RecordBytesDownloaded adds n to the cumulative bytes-downloaded counter.
func RecordBytesDownloaded(n int64) {
	fetchBytesDownloaded.Add(float64(n))
}
