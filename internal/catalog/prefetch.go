package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
)

const prefetchTimeout = 30 * time.Second

// prefetcher warms the page after the one just served, so paging forward
// usually lands on a memoized entry. It is fire-and-forget: failures are
// logged and never surface to the caller, and a result computed under a
// generation that Invalidate has since superseded is discarded by the
// cache write path.
type prefetcher struct {
	engine *Engine
	wg     sync.WaitGroup
}

func newPrefetcher(e *Engine) *prefetcher {
	return &prefetcher{engine: e}
}

func (p *prefetcher) afterQuery(q Query, served Page) {
	if !served.HasNext {
		return
	}
	next := q.sanitized()
	next.Page = served.CurrentPage + 1

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Detached from the caller's context: the request that triggered
		// the warm-up finishes before this does.
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		if _, err := p.engine.run(ctx, next); err != nil {
			p.engine.cache.metrics.PrefetchFailed()
			log.Warn().Err(err).Int("page", next.Page).Msg("Prefetch failed")
		}
	}()
}

// wait blocks until every scheduled warm-up has finished.
func (p *prefetcher) wait() {
	p.wg.Wait()
}
