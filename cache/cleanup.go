package cache

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Cleanup runs one eviction sweep: expired entries are deleted first, then
// entries over the size cap ordered by lowest hit count and oldest access.
// Both counts are returned for observability.
func (c *Cache) Cleanup() (expired, evicted int, err error) {
	now := c.opts.Clock.Now()

	expired, err = c.store.DeleteExpired(now)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to delete expired entries")
	}
	metricExpiredDeleted.Add(float64(expired))

	evicted, err = c.store.EvictOverCap(c.opts.SizeCap)
	if err != nil {
		return expired, 0, errors.Wrap(err, "failed to evict entries over cap")
	}
	metricCapEvicted.Add(float64(evicted))

	if expired > 0 || evicted > 0 {
		log.Infof("cache sweep removed %d expired and %d over-cap entries", expired, evicted)
	}

	return expired, evicted, nil
}

// Sweep runs Cleanup on the given interval until quit is closed
func (c *Cache) Sweep(interval time.Duration, quit <-chan struct{}) {
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	for {
		select {
		case <-ticker.C:
			log.Debug("Started cache sweep")
			if _, _, err := c.Cleanup(); err != nil {
				log.Errorf("cache sweep failed: %s", err)
			}
			log.Debug("Finished cache sweep")
		case <-quit:
			ticker.Stop()
			return
		}
	}
}
