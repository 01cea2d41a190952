package cache

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WarmPopularExpired re-extracts entries that are expired but were popular
// while alive, so frequently requested URLs come back warm. Extractions run
// on a bounded pool, individual failures are logged and never abort the
// pass. Returns the number of entries successfully refreshed.
func (c *Cache) WarmPopularExpired(ctx context.Context) (int, error) {
	if c.opts.Extractor == nil {
		return 0, ErrNoExtractor
	}

	entries, err := c.store.PopularExpired(c.opts.Clock.Now(), c.opts.PopularThreshold)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	log.Debugf("Started warming %d popular expired entries", len(entries))

	var warmed int64
	g := &errgroup.Group{}
	g.SetLimit(c.opts.WarmConcurrency)
	for _, e := range entries {
		url := e.URL
		g.Go(func() error {
			if _, err := c.Refresh(ctx, url); err != nil {
				log.Errorf("failed to warm %s: %s", url, err)
				return nil
			}
			atomic.AddInt64(&warmed, 1)
			metricWarmed.Inc()
			return nil
		})
	}
	_ = g.Wait()

	log.Debugf("Finished warming, refreshed %d entries", warmed)

	return int(warmed), nil
}
