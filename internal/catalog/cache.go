// Package catalog maintains the in-memory package catalog: a TTL-bounded
// snapshot of the remote package list plus memoized filtered, sorted and
// paginated views over it.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"github.com/dvhoang/cpidash/internal/datefmt"
)

// DefaultTTL bounds how long a snapshot or a memoized page is served
// before a refresh.
const DefaultTTL = 5 * time.Minute

const snapshotKey = "snapshot"

// Backend fetches the raw package list from the remote system. Shape
// quirks in the returned records are normalized here, not by the
// implementation.
type Backend interface {
	FetchPackages(ctx context.Context) ([]RawRecord, error)
}

// Cache owns the catalog snapshot and every page derived from it. The
// snapshot is replace-only: a refresh swaps in a brand-new slice, so
// pages handed out earlier stay valid. The generation counter increments
// on every Invalidate; an in-flight refresh or prefetch that captured an
// older generation has its write discarded instead of resurrecting
// evicted data.
type Cache struct {
	backend Backend
	ttl     time.Duration
	clock   func() time.Time
	metrics Metrics

	sf singleflight.Group

	mu         sync.Mutex
	snapshot   []Record
	fetchedAt  time.Time
	generation uint64
	loading    int
	pages      map[Query]*pageEntry
}

type pageEntry struct {
	page      Page
	createdAt time.Time
	gen       uint64
}

type snapshotResult struct {
	records []Record
	gen     uint64
}

type CacheOption func(*Cache)

// WithClock replaces the wall clock so tests can pin time.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.clock = now }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(backend Backend, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		clock:   time.Now,
		metrics: NopMetrics,
		pages:   make(map[Query]*pageEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current records, hitting the backend only when the
// snapshot is absent, older than the TTL, or force is set. Concurrent
// callers share a single in-flight fetch. On fetch failure the previous
// snapshot is kept untouched and the error is returned.
func (c *Cache) Snapshot(ctx context.Context, force bool) ([]Record, error) {
	records, _, err := c.snapshotGen(ctx, force)
	return records, err
}

func (c *Cache) snapshotGen(ctx context.Context, force bool) ([]Record, uint64, error) {
	c.mu.Lock()
	if snap, ok := c.freshLocked(force); ok {
		gen := c.generation
		c.mu.Unlock()
		c.metrics.SnapshotHit()
		return snap, gen, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(snapshotKey, func() (any, error) {
		// Re-check under the flight: a caller queued behind an earlier
		// refresh may find the snapshot already replaced.
		c.mu.Lock()
		if snap, ok := c.freshLocked(force); ok {
			res := snapshotResult{records: snap, gen: c.generation}
			c.mu.Unlock()
			return res, nil
		}
		gen := c.generation
		c.loading++
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.loading--
			c.mu.Unlock()
		}()

		start := c.clock()
		raw, err := c.backend.FetchPackages(ctx)
		if err != nil {
			c.metrics.SnapshotFetch(0, c.clock().Sub(start), err)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		snap := c.build(raw)
		c.metrics.SnapshotFetch(len(snap), c.clock().Sub(start), nil)

		c.mu.Lock()
		if c.generation == gen {
			c.snapshot = snap
			c.fetchedAt = c.clock()
		}
		c.mu.Unlock()
		return snapshotResult{records: snap, gen: gen}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	res := v.(snapshotResult)
	return res.records, res.gen, nil
}

// freshLocked reports whether the held snapshot can be served as is.
func (c *Cache) freshLocked(force bool) ([]Record, bool) {
	if force || c.snapshot == nil {
		return nil, false
	}
	if c.clock().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.snapshot, true
}

// Invalidate drops the snapshot and every memoized page, bumps the
// generation, and forgets any in-flight fetch so the next caller starts a
// fresh one.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.fetchedAt = time.Time{}
	c.generation++
	c.pages = make(map[Query]*pageEntry)
	c.mu.Unlock()
	c.sf.Forget(snapshotKey)
	c.metrics.Invalidation()
}

// Find returns the catalog entry with the given ID, refreshing the
// snapshot first if needed.
func (c *Cache) Find(ctx context.Context, id string) (Record, error) {
	snap, err := c.Snapshot(ctx, false)
	if err != nil {
		return Record{}, err
	}
	for i := range snap {
		if snap[i].ID == id {
			return snap[i], nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// lookupPage returns the memoized page for q when present and fresh.
// Expired entries are dropped on access.
func (c *Cache) lookupPage(q Query) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pages[q]
	if !ok {
		return Page{}, false
	}
	if e.gen != c.generation || c.clock().Sub(e.createdAt) >= c.ttl {
		delete(c.pages, q)
		return Page{}, false
	}
	return e.page, true
}

// storePage memoizes a computed page unless the cache moved to a newer
// generation while the page was being computed.
func (c *Cache) storePage(q Query, p Page, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.pages[q] = &pageEntry{page: p, createdAt: c.clock(), gen: gen}
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Cache) stateLocked() State {
	switch {
	case c.loading > 0:
		return StateLoading
	case c.snapshot == nil:
		return StateEmpty
	case c.clock().Sub(c.fetchedAt) >= c.ttl:
		return StateStale
	default:
		return StateReady
	}
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:      c.stateLocked(),
		Records:    len(c.snapshot),
		Generation: c.generation,
		PageViews:  len(c.pages),
	}
	if !c.fetchedAt.IsZero() {
		s.FetchedAt = c.fetchedAt.UnixMilli()
	}
	return s
}

// build normalizes a fetched batch. The newer field spelling wins and the
// legacy one is the fallback. A record whose date cannot be parsed keeps
// epoch 0; the rest of the batch is unaffected.
func (c *Cache) build(raw []RawRecord) []Record {
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		rec := Record{
			ID:           r.ID,
			Name:         r.Name,
			Description:  r.Description,
			Version:      r.Version,
			Status:       r.Status,
			ModifiedDate: firstNonEmpty(r.ModifiedDate, r.LastModified),
			ModifiedBy:   firstNonEmpty(r.ModifiedBy, r.Author),
			CreatedDate:  r.CreatedDate,
			CreatedBy:    r.CreatedBy,
		}
		rec.ModifiedEpochMs = datefmt.Normalize(rec.ModifiedDate)
		if rec.ModifiedEpochMs == 0 && rec.ModifiedDate != "" {
			c.metrics.MalformedRecord()
			log.Warn().Str("package", rec.ID).Str("value", rec.ModifiedDate).Msg("Unparseable modified date")
		}
		if rec.CreatedDate != "" {
			rec.CreatedEpochMs = datefmt.Normalize(rec.CreatedDate)
		}
		out = append(out, rec)
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
