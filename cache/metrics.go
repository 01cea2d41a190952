package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	metricMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	metricStores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_stores_total",
			Help: "Total number of cache store operations",
		},
	)

	metricExpiredDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_expired_deleted_total",
			Help: "Total number of entries removed by the expiry sweep",
		},
	)

	metricCapEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_cap_evicted_total",
			Help: "Total number of entries evicted over the size cap",
		},
	)

	metricWarmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlcache_warmed_total",
			Help: "Total number of popular expired entries re-extracted by warming",
		},
	)
)
