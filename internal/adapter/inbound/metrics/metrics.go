// Package metrics exposes scan progress and HTTP harvesting counters as
// Prometheus metrics, scoped to the orchestrator's stats model.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fathomsec/fathom/internal/domain/orchestrator"
)

// Metrics holds every Prometheus metric Fathom exports for a running scan.
type Metrics struct {
	RequestsTotal   prometheus.Counter
	ResponsesTotal  prometheus.Counter
	TimeoutsTotal   prometheus.Counter
	IssuesTotal     *prometheus.CounterVec
	Progress        prometheus.Gauge
	SitemapSize     prometheus.Gauge
	AuditmapSize    prometheus.Gauge
	ModuleDurations *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathom",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests issued by the harvesting engine.",
		}),
		ResponsesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathom",
			Name:      "http_responses_total",
			Help:      "Total number of HTTP responses received by the harvesting engine.",
		}),
		TimeoutsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathom",
			Name:      "http_timeouts_total",
			Help:      "Total number of HTTP requests that timed out.",
		}),
		IssuesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "fathom",
			Name:      "issues_total",
			Help:      "Total number of issues found, labeled by element kind.",
		}, []string{"element"}),
		Progress: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "fathom",
			Name:      "scan_progress_percent",
			Help:      "Current scan progress, 0-100.",
		}),
		SitemapSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "fathom",
			Name:      "sitemap_size",
			Help:      "Number of URLs discovered so far.",
		}),
		AuditmapSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "fathom",
			Name:      "auditmap_size",
			Help:      "Number of pages fully audited so far.",
		}),
		ModuleDurations: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fathom",
			Name:      "module_run_duration_seconds",
			Help:      "Duration of a single module run against a single page.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
	}
}

// Observe refreshes the gauges from a Stats snapshot. Counters are
// monotonic and are never set from a snapshot: IssuesTotal is advanced
// only via RecordIssue, and nothing in this package advances
// RequestsTotal, ResponsesTotal or TimeoutsTotal.
func (m *Metrics) Observe(stats orchestrator.Stats) {
	m.Progress.Set(stats.Progress)
	m.SitemapSize.Set(float64(stats.SitemapSize))
	m.AuditmapSize.Set(float64(stats.AuditmapSize))
}

// RecordIssue increments the per-element-kind issue counter.
func (m *Metrics) RecordIssue(element string) {
	m.IssuesTotal.WithLabelValues(element).Inc()
}

// RecordModuleRun observes a single module run's duration.
func (m *Metrics) RecordModuleRun(module string, seconds float64) {
	m.ModuleDurations.WithLabelValues(module).Observe(seconds)
}

// Handler returns the promhttp handler serving reg's metrics, to mount at
// /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
