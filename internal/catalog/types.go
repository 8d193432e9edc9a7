package catalog

// RawRecord is a package entry exactly as the backend returned it. Field
// names differ between tenant versions, so both spellings are carried and
// reconciled when the snapshot is built.
type RawRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	ModifiedDate string `json:"modifiedDate"`
	LastModified string `json:"lastModified"`
	ModifiedBy   string `json:"modifiedBy"`
	Author       string `json:"author"`
	CreatedDate  string `json:"createdDate"`
	CreatedBy    string `json:"createdBy"`
}

// Record is a catalog entry after field unification and date normalization.
// Epochs are derived once at snapshot build time, never per query.
type Record struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Version         string `json:"version"`
	Status          string `json:"status"`
	ModifiedDate    string `json:"modifiedDate"`
	ModifiedBy      string `json:"modifiedBy"`
	CreatedDate     string `json:"createdDate,omitempty"`
	CreatedBy       string `json:"createdBy,omitempty"`
	ModifiedEpochMs int64  `json:"modifiedEpochMs"`
	CreatedEpochMs  int64  `json:"createdEpochMs,omitempty"`
}

// Package lifecycle states as reported by the backend.
const (
	StatusActive     = "active"
	StatusDraft      = "draft"
	StatusDeprecated = "deprecated"
)

type SortField string

const (
	SortByName       SortField = "name"
	SortByModifiedAt SortField = "modifiedDate"
	SortByModifiedBy SortField = "modifiedBy"
	SortByCreatedAt  SortField = "createdDate"
	SortByCreatedBy  SortField = "createdBy"
)

// ParseSortField maps a request parameter to a sort field, defaulting to
// name for anything unrecognized.
func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortByName, SortByModifiedAt, SortByModifiedBy, SortByCreatedAt, SortByCreatedBy:
		return SortField(s)
	default:
		return SortByName
	}
}

type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

func ParseSortDirection(s string) SortDirection {
	if SortDirection(s) == Descending {
		return Descending
	}
	return Ascending
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query identifies one paginated view over the catalog. It is a value type
// and is used verbatim as the result cache key.
type Query struct {
	Page     int
	PageSize int
	Search   string
	SortBy   SortField
	SortDir  SortDirection
}

// sanitized returns a copy with defaults applied so that equivalent requests
// share a cache entry.
func (q Query) sanitized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	q.SortBy = ParseSortField(string(q.SortBy))
	q.SortDir = ParseSortDirection(string(q.SortDir))
	return q
}

// Page is one served slice of the catalog together with its pagination
// envelope. Records are in sorted order and must be treated as immutable.
type Page struct {
	Records     []Record
	TotalCount  int
	TotalPages  int
	CurrentPage int
	PageSize    int
	HasNext     bool
	HasPrev     bool
}

// State describes the snapshot lifecycle for health reporting.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateStale   State = "stale"
)

// Stats is a point-in-time view of the cache for health and metrics
// endpoints.
type Stats struct {
	State      State
	Records    int
	FetchedAt  int64 // unix ms, 0 when empty
	Generation uint64
	PageViews  int // live memoized page entries
}
