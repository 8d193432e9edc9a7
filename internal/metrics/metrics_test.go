package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCounters(t *testing.T) {
	c := NewCatalog()

	c.SnapshotHit()
	c.SnapshotHit()
	c.PageHit()
	c.PageComputed()
	c.MalformedRecord()
	c.Invalidation()
	c.PrefetchFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.snapshotHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pageHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesComputed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invalidations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.prefetchFailures))
}

func TestSnapshotFetchOutcomes(t *testing.T) {
	c := NewCatalog()

	c.SnapshotFetch(25, 120*time.Millisecond, nil)
	c.SnapshotFetch(0, 30*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshotFetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshotFetches.WithLabelValues("error")))
	assert.Equal(t, 25.0, testutil.ToFloat64(c.snapshotRecords), "record gauge only tracks successful fetches")
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCatalog()
	c.PageComputed()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "cpidash_pages_computed_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
