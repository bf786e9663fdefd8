// Package telemetry registers the pipeline's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal counts document download outcomes per source.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdrbot_downloads_total",
		Help: "Document download outcomes, labeled by source and outcome.",
	}, []string{"source", "outcome"})

	// DownloadRetriesTotal counts individual failed download attempts that
	// were retried.
	DownloadRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdrbot_download_retries_total",
		Help: "Download attempts that failed and were retried.",
	})

	// AnalysesTotal counts analysis outcomes.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdrbot_analyses_total",
		Help: "Analysis engine call outcomes.",
	}, []string{"outcome"})

	// PacingDelaySeconds observes time spent waiting on the per-source
	// request pacer.
	PacingDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdrbot_pacing_delay_seconds",
		Help:    "Delay introduced by per-source request pacing.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"source"})
)

// ObservePacingDelay records a pacing wait for a source. Sub-millisecond
// waits are noise and are dropped.
func ObservePacingDelay(source string, d time.Duration) {
	if d > time.Millisecond {
		PacingDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
	}
}
