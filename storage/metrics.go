package storage

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects Prometheus counters and gauges describing a BufferPool's
// runtime behavior: cache hits/misses, evictions, dirty flushes, pool
// exhaustion events, and a gauge of pinned frames that is refreshed only when
// DeletePage removes a page. A Metrics instance is tied to one BufferPool via
// WithMetrics. NewMetrics registers fixed series names, so independently
// constructed pools (as in tests) each need their own registerer to avoid
// colliding on a shared Prometheus registry.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	evictions     prometheus.Counter
	flushes       prometheus.Counter
	poolExhausted prometheus.Counter
	pinnedFrames  prometheus.Gauge
}

// NewMetrics constructs a Metrics collector and registers its series with
// registerer. Pass prometheus.NewRegistry() in tests to avoid touching the
// default global registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_buffer_pool_hits_total",
			Help: "Number of FetchPage calls served without a disk read.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_buffer_pool_misses_total",
			Help: "Number of FetchPage calls that required a disk read.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_buffer_pool_evictions_total",
			Help: "Number of frames reclaimed from the replacer to satisfy a fetch or allocation.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_buffer_pool_flushes_total",
			Help: "Number of frames written back to disk by eviction, deletion, or a flush.",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_buffer_pool_exhausted_total",
			Help: "Number of times frame acquisition failed because no frame was free or evictable.",
		}),
		pinnedFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagepool_buffer_pool_pinned_frames",
			Help: "Number of frames with a non-zero pin count, as of the last update.",
		}),
	}

	registerer.MustRegister(m.hits, m.misses, m.evictions, m.flushes, m.poolExhausted, m.pinnedFrames)
	return m
}
