package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "opendata_relay"

// Metrics holds the Prometheus counters, histograms, and gauges for the relay.
type Metrics struct {
	// Fetch coordination.
	FetchOutcomes       *prometheus.CounterVec // labels: source, outcome={fresh,stale,failure}
	CacheLookups        *prometheus.CounterVec // labels: source, result={hit,stale,miss}
	SharedFetches       *prometheus.CounterVec // labels: source
	RetryAttempts       *prometheus.CounterVec // labels: source
	NormalizationErrors *prometheus.CounterVec // labels: source, kind

	// Upstream transport.
	UpstreamRequests *prometheus.CounterVec   // labels: source, result={2xx,4xx,5xx,timeout,...}
	UpstreamDuration *prometheus.HistogramVec // labels: source

	// Consumer-facing throttling.
	CooldownRejections prometheus.Counter

	// Update watch and publish pipeline.
	WatchRunning     prometheus.Gauge
	UpdatesPublished prometheus.Counter
	PublishErrors    prometheus.Counter
	PublishBatchSize prometheus.Histogram
	PublishDuration  prometheus.Histogram
}

// NewMetrics creates and registers all relay metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchOutcomes,
		m.CacheLookups,
		m.SharedFetches,
		m.RetryAttempts,
		m.NormalizationErrors,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CooldownRejections,
		m.WatchRunning,
		m.UpdatesPublished,
		m.PublishErrors,
		m.PublishBatchSize,
		m.PublishDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Coordinated fetch results by source and outcome.",
		}, []string{"source", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Source cache lookups by source and result.",
		}, []string{"source", "result"}),
		SharedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_fetches_total",
			Help:      "Callers served by an already in-flight fetch.",
		}, []string{"source"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Upstream attempts that were retried after a failure.",
		}, []string{"source"}),
		NormalizationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_errors_total",
			Help:      "Payloads that could not be normalized, by failure kind.",
		}, []string{"source", "kind"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP requests by source and status class or transport error.",
		}, []string{"source", "result"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CooldownRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_rejections_total",
			Help:      "Requests rejected because the user is cooling down.",
		}),
		WatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_running",
			Help:      "1 when the watch pipeline is active, 0 when shut down.",
		}),
		UpdatesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_published_total",
			Help:      "Record updates written to the configured publishers.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publish batches.",
		}),
		PublishBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_batch_size",
			Help:      "Number of updates per published batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of a complete watch-serialize-publish cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
