package catalog

import (
	"context"
	"sort"
	"strings"
)

// Engine serves paginated views over the catalog. Results are memoized by
// query value, so repeating a query inside the TTL window touches neither
// the snapshot nor the backend. For a fixed snapshot the pipeline is a
// pure function of the query.
type Engine struct {
	cache *Cache
	pf    *prefetcher
}

// NewEngine wraps a cache. With prefetch enabled, serving a page warms
// the following one in the background.
func NewEngine(c *Cache, prefetch bool) *Engine {
	e := &Engine{cache: c}
	if prefetch {
		e.pf = newPrefetcher(e)
	}
	return e
}

// Query returns one page of the catalog for q.
func (e *Engine) Query(ctx context.Context, q Query) (Page, error) {
	page, err := e.run(ctx, q)
	if err != nil {
		return Page{}, err
	}
	if e.pf != nil {
		e.pf.afterQuery(q, page)
	}
	return page, nil
}

// run is the pipeline without prefetch notification; the prefetcher goes
// through here so warming one page never cascades into warming them all.
func (e *Engine) run(ctx context.Context, q Query) (Page, error) {
	q = q.sanitized()
	if page, ok := e.cache.lookupPage(q); ok {
		e.cache.metrics.PageHit()
		return page, nil
	}

	snap, gen, err := e.cache.snapshotGen(ctx, false)
	if err != nil {
		return Page{}, err
	}

	matched := filterRecords(snap, q.Search)
	sortRecords(matched, q.SortBy, q.SortDir)
	page := paginate(matched, q.Page, q.PageSize)

	e.cache.storePage(q, page, gen)
	e.cache.metrics.PageComputed()
	return page, nil
}

// filterRecords returns the records matching term as a case-insensitive
// substring of name, description, version, modifiedBy, createdBy or ID.
// A blank term keeps everything. The result is always a fresh slice; the
// snapshot itself is never reordered.
func filterRecords(records []Record, term string) []Record {
	term = strings.TrimSpace(term)
	if term == "" {
		return append([]Record(nil), records...)
	}
	needle := strings.ToLower(term)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.matches(needle) {
			out = append(out, r)
		}
	}
	return out
}

func (r *Record) matches(needle string) bool {
	for _, field := range [...]string{r.Name, r.Description, r.Version, r.ModifiedBy, r.CreatedBy, r.ID} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// sortRecords sorts in place. Descending order swaps the comparator's
// operands rather than negating it, so ties keep their snapshot order in
// both directions.
func sortRecords(records []Record, field SortField, dir SortDirection) {
	less := lessFunc(field)
	sort.SliceStable(records, func(i, j int) bool {
		if dir == Descending {
			return less(&records[j], &records[i])
		}
		return less(&records[i], &records[j])
	})
}

func lessFunc(field SortField) func(a, b *Record) bool {
	switch field {
	case SortByModifiedAt:
		return func(a, b *Record) bool { return a.ModifiedEpochMs < b.ModifiedEpochMs }
	case SortByCreatedAt:
		return func(a, b *Record) bool { return a.createdOrModified() < b.createdOrModified() }
	case SortByModifiedBy:
		return func(a, b *Record) bool {
			return strings.ToLower(a.ModifiedBy) < strings.ToLower(b.ModifiedBy)
		}
	case SortByCreatedBy:
		return func(a, b *Record) bool {
			return strings.ToLower(a.CreatedBy) < strings.ToLower(b.CreatedBy)
		}
	default:
		return func(a, b *Record) bool {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	}
}

func (r *Record) createdOrModified() int64 {
	if r.CreatedEpochMs != 0 {
		return r.CreatedEpochMs
	}
	return r.ModifiedEpochMs
}

// paginate slices the filtered set. The page number is clamped into
// [1, totalPages]; an empty set still reports one page.
func paginate(records []Record, page, size int) Page {
	total := len(records)
	pages := totalPages(total, size)
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return Page{
		Records:     records[start:end],
		TotalCount:  total,
		TotalPages:  pages,
		CurrentPage: page,
		PageSize:    size,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	}
}

func totalPages(total, size int) int {
	n := (total + size - 1) / size
	if n < 1 {
		n = 1
	}
	return n
}
