// Package metrics holds the Prometheus collectors shared by the analysis run,
// the preview resolver and the content server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FilesParsed counts analyzed files by result (ok, syntax_error, read_error, skipped).
	FilesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importgraph_files_parsed_total",
		Help: "Files handed to the source analyzer, by result",
	}, []string{"result"})

	// Previews counts preview resolutions by node kind and outcome status.
	Previews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importgraph_previews_total",
		Help: "Preview resolutions by node kind and status",
	}, []string{"kind", "status"})

	// ContentRequests counts content endpoint responses by HTTP status class.
	ContentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importgraph_content_requests_total",
		Help: "Content endpoint requests by status",
	}, []string{"status"})

	// ContentCache counts content cache lookups (hit or miss).
	ContentCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importgraph_content_cache_total",
		Help: "Content cache lookups by result",
	}, []string{"result"})

	// AnalysisDuration tracks the wall time of a full analysis run.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "importgraph_analysis_duration_seconds",
		Help:    "Duration of a full analysis run in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
