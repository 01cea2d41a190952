package cache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoCache represents a URL that is not cached
	ErrNoCache = errors.New("entry is not cached")
	// ErrNotConfirmed represents a destructive operation without confirmation
	ErrNotConfirmed = errors.New("destructive operation not confirmed")
	// ErrNoExtractor represents an extraction request without a configured extractor
	ErrNoExtractor = errors.New("no extractor configured")
)

const (
	// DefaultTTL is the cache duration for entries without a platform tier
	DefaultTTL = 7 * 24 * time.Hour
	// PremiumTTL is the cache duration for premium platform entries and
	// the target of the popularity ratchet
	PremiumTTL = 30 * 24 * time.Hour
	// RatchetWindow is how close to expiry a popular entry must be before
	// its TTL gets extended
	RatchetWindow = 14 * 24 * time.Hour
	// PopularThreshold is the hit count from which an entry counts as popular
	PopularThreshold = 10
	// DefaultSizeCap is the entry count above which the sweep evicts
	DefaultSizeCap = 100000
	// DefaultWarmConcurrency bounds the warming re-extraction pool
	DefaultWarmConcurrency = 4
)

// Extractor produces metadata for a URL.
// The cache only consumes its output shape, extraction strategies live
// outside this package.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Result, error)
}

// Options tunes a Cache. Zero values fall back to the defaults above.
type Options struct {
	// Extractor powers refresh and warming, nil disables both
	Extractor Extractor
	// Clock defaults to the wall clock
	Clock clock.Clock

	DefaultTTL       time.Duration
	PremiumTTL       time.Duration
	RatchetWindow    time.Duration
	PopularThreshold int64
	SizeCap          int
	WarmConcurrency  int
}

// New returns a new Cache instance on top of the given store
func New(store Store, opts Options) (*Cache, error) {
	if store == nil {
		return nil, errors.New("no store provided")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.PremiumTTL <= 0 {
		opts.PremiumTTL = PremiumTTL
	}
	if opts.RatchetWindow <= 0 {
		opts.RatchetWindow = RatchetWindow
	}
	if opts.PopularThreshold <= 0 {
		opts.PopularThreshold = PopularThreshold
	}
	if opts.SizeCap <= 0 {
		opts.SizeCap = DefaultSizeCap
	}
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = DefaultWarmConcurrency
	}

	return &Cache{
		store: store,
		opts:  opts,
	}, nil
}

// Cache represents the URL metadata cache
type Cache struct {
	store Store
	opts  Options
	sf    singleflight.Group
}

// Fetch looks up cached metadata for a raw URL.
// A hit increments the hit count, refreshes the last access time and, for
// popular entries close to expiry, ratchets the TTL out to the premium
// tier. A miss returns ErrNoCache and leaves extraction to the caller.
func (c *Cache) Fetch(rawURL string) (map[string]interface{}, error) {
	_, hash := HashURL(rawURL)
	if hash == "" {
		return nil, ErrNoCache
	}

	now := c.opts.Clock.Now()
	e, err := c.store.Get(hash)
	if err == ErrEntryNotFound {
		metricMisses.Inc()
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up cache entry")
	}
	if e.Expired(now) {
		metricMisses.Inc()
		return nil, ErrNoCache
	}

	// one-way ratchet: popular entries close to expiry get the premium TTL
	var extend time.Time
	if e.HitCount+1 >= c.opts.PopularThreshold &&
		e.ExpiresAt.Before(now.Add(c.opts.RatchetWindow)) {
		extend = now.Add(c.opts.PremiumTTL)
	}

	e, err = c.store.Touch(hash, now, extend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record cache hit")
	}
	metricHits.Inc()

	return e.Projection(true), nil
}

// Store persists extractor output for a raw URL, overwriting any previous
// entry for the same normalized URL. A ttl of 0 picks the platform tier:
// premium platforms cache for 30 days, everything else for 7.
func (c *Cache) Store(rawURL string, res *Result, ttl time.Duration) (*Entry, error) {
	if res == nil {
		res = &Result{}
	}

	normalized, hash := HashURL(rawURL)

	platform := res.Platform
	if platform == "" {
		platform = DetectPlatform(rawURL)
	}

	duration := ttl
	if duration <= 0 {
		duration = c.opts.DefaultTTL
		if IsPremiumPlatform(platform) {
			duration = c.opts.PremiumTTL
		}
	}

	now := c.opts.Clock.Now()
	e := &Entry{
		URL:              rawURL,
		NormalizedURL:    normalized,
		URLHash:          hash,
		Title:            res.Title,
		Description:      res.Description,
		ImageURL:         res.Image,
		Price:            res.Price,
		Currency:         res.Currency,
		Platform:         platform,
		ExtractionMethod: res.ExtractionMethod,
		Metadata:         res.Metadata,
		ExtractedAt:      now,
		ExpiresAt:        now.Add(duration),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	stored, err := c.store.Upsert(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to store cache entry")
	}
	metricStores.Inc()

	return stored, nil
}

// FetchOrExtract is the read-through path: a miss runs the extractor and
// stores its output. Concurrent misses for the same normalized URL are
// coalesced into a single extraction.
func (c *Cache) FetchOrExtract(ctx context.Context, rawURL string) (map[string]interface{}, error) {
	_, hash := HashURL(rawURL)
	if hash == "" {
		return nil, errors.New("blank URL")
	}

	v, err, _ := c.sf.Do(hash, func() (interface{}, error) {
		meta, err := c.Fetch(rawURL)
		if err == nil {
			return meta, nil
		}
		if err != ErrNoCache {
			return nil, err
		}
		if c.opts.Extractor == nil {
			return nil, ErrNoExtractor
		}

		res, err := c.opts.Extractor.Extract(ctx, rawURL)
		if err != nil {
			return nil, errors.Wrap(err, "extraction failed")
		}
		e, err := c.Store(rawURL, res, 0)
		if err != nil {
			return nil, err
		}

		return e.Projection(false), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(map[string]interface{}), nil
}

// Refresh re-extracts one URL and overwrites its cache entry
func (c *Cache) Refresh(ctx context.Context, rawURL string) (*Entry, error) {
	if c.opts.Extractor == nil {
		return nil, ErrNoExtractor
	}

	res, err := c.opts.Extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "extraction failed")
	}

	return c.Store(rawURL, res, 0)
}

// Entry returns one entry by its URL hash
func (c *Cache) Entry(hash string) (*Entry, error) {
	return c.store.Get(hash)
}

// Delete removes one entry by its URL hash
func (c *Cache) Delete(hash string) error {
	return c.store.Delete(hash)
}

// List returns entries matching the filter
func (c *Cache) List(f ListFilter) ([]*Entry, error) {
	return c.store.List(f, c.opts.Clock.Now(), c.opts.PopularThreshold)
}

// Statistics aggregates the whole table into a fresh report
func (c *Cache) Statistics() (*Stats, error) {
	return c.store.Stats(c.opts.Clock.Now(), c.opts.PopularThreshold)
}

// Clear removes every entry. It fails closed without confirmation.
func (c *Cache) Clear(confirmed bool) (int, error) {
	if !confirmed {
		return 0, ErrNotConfirmed
	}

	removed, err := c.store.Clear()
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear cache")
	}
	log.Infof("cleared %d cache entries", removed)

	return removed, nil
}
