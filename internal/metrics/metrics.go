// Package metrics exposes Prometheus collectors for the catalog data layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvhoang/cpidash/internal/catalog"
)

const namespace = "cpidash"

// Catalog implements catalog.Metrics on top of a dedicated Prometheus
// registry so the handler never exports metrics from other libraries.
type Catalog struct {
	registry *prometheus.Registry

	snapshotHits     prometheus.Counter
	snapshotFetches  *prometheus.CounterVec
	snapshotRecords  prometheus.Gauge
	fetchDuration    prometheus.Histogram
	pageHits         prometheus.Counter
	pagesComputed    prometheus.Counter
	malformedRecords prometheus.Counter
	invalidations    prometheus.Counter
	prefetchFailures prometheus.Counter
}

var _ catalog.Metrics = (*Catalog)(nil)

// NewCatalog creates the collector set and registers it together with
// the standard Go and process collectors.
func NewCatalog() *Catalog {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Catalog{
		registry: registry,
		snapshotHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_hits_total",
			Help:      "Snapshot requests served from the cached package list.",
		}),
		snapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetches_total",
			Help:      "Package list fetches from the backend by result.",
		}, []string{"result"}),
		snapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Number of package records in the current snapshot.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_fetch_duration_seconds",
			Help:      "Duration of package list fetches from the backend.",
			Buckets:   prometheus.DefBuckets,
		}),
		pageHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_hits_total",
			Help:      "Query results served from the memoized page cache.",
		}),
		pagesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_computed_total",
			Help:      "Query results computed from the snapshot.",
		}),
		malformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Package records with unparseable timestamps.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Explicit cache invalidations.",
		}),
		prefetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_failures_total",
			Help:      "Background page prefetches that failed.",
		}),
	}

	registry.MustRegister(
		c.snapshotHits,
		c.snapshotFetches,
		c.snapshotRecords,
		c.fetchDuration,
		c.pageHits,
		c.pagesComputed,
		c.malformedRecords,
		c.invalidations,
		c.prefetchFailures,
	)

	return c
}

// SnapshotHit counts a snapshot request served from cache.
func (c *Catalog) SnapshotHit() {
	c.snapshotHits.Inc()
}

// SnapshotFetch records the outcome of a backend fetch.
func (c *Catalog) SnapshotFetch(records int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		c.snapshotRecords.Set(float64(records))
	}
	c.snapshotFetches.WithLabelValues(result).Inc()
	c.fetchDuration.Observe(elapsed.Seconds())
}

// PageHit counts a query served from the memoized page cache.
func (c *Catalog) PageHit() {
	c.pageHits.Inc()
}

// PageComputed counts a query computed from the snapshot.
func (c *Catalog) PageComputed() {
	c.pagesComputed.Inc()
}

// MalformedRecord counts a record with an unparseable timestamp.
func (c *Catalog) MalformedRecord() {
	c.malformedRecords.Inc()
}

// Invalidation counts an explicit cache invalidation.
func (c *Catalog) Invalidation() {
	c.invalidations.Inc()
}

// PrefetchFailed counts a failed background prefetch.
func (c *Catalog) PrefetchFailed() {
	c.prefetchFailures.Inc()
}

// Handler returns the scrape endpoint for this registry.
func (c *Catalog) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
