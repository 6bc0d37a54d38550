package loader

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the loader's prometheus collectors on a private registry so
// multiple loaders (and tests) never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheHits     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abrstream_requests_total",
			Help: "Completed downloads by media type.",
		}, []string{"media_type"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abrstream_download_bytes_total",
			Help: "Downloaded payload bytes by media type.",
		}, []string{"media_type"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abrstream_retries_total",
			Help: "Retried attempts by media type and failure category.",
		}, []string{"media_type", "category"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abrstream_failures_total",
			Help: "Terminal download failures by media type and category.",
		}, []string{"media_type", "category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "abrstream_download_duration_seconds",
			Help:    "Download duration by media type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"media_type"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abrstream_init_cache_hits_total",
			Help: "Init segments served from the cache.",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.bytesTotal, m.retriesTotal, m.failuresTotal, m.duration, m.cacheHits)
	return m
}

// Registry returns the registry backing the collectors, for export over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
