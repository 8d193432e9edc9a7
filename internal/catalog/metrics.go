package catalog

import "time"

// Metrics receives cache activity events. The Prometheus implementation
// lives in internal/metrics; NopMetrics is the default sink.
type Metrics interface {
	// SnapshotHit records a snapshot served without touching the backend.
	SnapshotHit()
	// SnapshotFetch records one backend fetch attempt.
	SnapshotFetch(records int, elapsed time.Duration, err error)
	// PageHit records a query answered from the memoized page cache.
	PageHit()
	// PageComputed records a query that ran the full pipeline.
	PageComputed()
	// MalformedRecord records a record whose date could not be parsed.
	MalformedRecord()
	// Invalidation records a wholesale cache invalidation.
	Invalidation()
	// PrefetchFailed records a background warm-up that returned an error.
	PrefetchFailed()
}

type nopMetrics struct{}

func (nopMetrics) SnapshotHit() {}

func (nopMetrics) SnapshotFetch(int, time.Duration, error) {}

func (nopMetrics) PageHit() {}

func (nopMetrics) PageComputed() {}

func (nopMetrics) MalformedRecord() {}

func (nopMetrics) Invalidation() {}

func (nopMetrics) PrefetchFailed() {}

// NopMetrics discards every event.
var NopMetrics Metrics = nopMetrics{}
