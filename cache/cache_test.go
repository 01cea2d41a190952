package cache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	opts.Clock = mock
	store, err := NewMemStore("")
	require.NoError(t, err)
	c, err := New(store, opts)
	require.NoError(t, err)

	return c, mock
}

func TestStoreFetchRoundTrip(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	price := 129.9
	_, err := c.Store("https://example.com/p?utm_source=mail&id=1", &Result{
		Title:            "Wireless Mouse",
		Description:      "A mouse",
		Image:            "https://example.com/mouse.jpg",
		Price:            &price,
		Currency:         "BRL",
		ExtractionMethod: "html",
		Metadata:         map[string]interface{}{"site_name": "Example"},
	}, 0)
	require.NoError(t, err)

	// tracking params do not split cache entries
	meta, err := c.Fetch("https://example.com/p?id=1")
	require.NoError(t, err)

	assert.Equal("Wireless Mouse", meta["title"])
	assert.Equal("A mouse", meta["description"])
	assert.Equal("https://example.com/mouse.jpg", meta["image"])
	assert.Equal(129.9, meta["price"])
	assert.Equal("BRL", meta["currency"])
	assert.Equal(PlatformUnknown, meta["platform"])
	assert.Equal(true, meta["cached"])
	assert.Equal("Example", meta["site_name"])
}

func TestFetchMergePrecedence(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	// the raw payload carries conflicting keys, the named fields win
	_, err := c.Store("https://example.com/p", &Result{
		Title: "Validated Title",
		Metadata: map[string]interface{}{
			"title": "stale raw title",
			"extra": "kept",
		},
	}, 0)
	require.NoError(t, err)

	meta, err := c.Fetch("https://example.com/p")
	require.NoError(t, err)
	assert.Equal("Validated Title", meta["title"])
	assert.Equal("kept", meta["extra"])
}

func TestFetchMiss(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	meta, err := c.Fetch("https://example.com/never-stored")
	assert.Equal(ErrNoCache, err)
	assert.Nil(meta)

	// blank input short-circuits as a miss as well
	_, err = c.Fetch("")
	assert.Equal(ErrNoCache, err)
}

func TestFetchExpiredIsMiss(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	_, err := c.Store("https://example.com/p", &Result{Title: "t"}, 0)
	require.NoError(t, err)

	mock.Add(DefaultTTL + time.Hour)

	_, err = c.Fetch("https://example.com/p")
	assert.Equal(ErrNoCache, err)
}

func TestFetchCountsHits(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	e, err := c.Store("https://example.com/p", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	assert.Equal(int64(0), e.HitCount)

	for i := 0; i < 3; i++ {
		_, err = c.Fetch("https://example.com/p")
		require.NoError(t, err)
	}

	e, err = c.Entry(e.URLHash)
	require.NoError(t, err)
	assert.Equal(int64(3), e.HitCount)
}

func TestPopularityRatchet(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	e, err := c.Store("https://example.com/p", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	created := mock.Now()
	assert.Equal(created.Add(DefaultTTL), e.ExpiresAt)

	// nine hits leave the default expiry alone
	for i := 0; i < 9; i++ {
		_, err = c.Fetch("https://example.com/p")
		require.NoError(t, err)
	}
	e, err = c.Entry(e.URLHash)
	require.NoError(t, err)
	assert.Equal(int64(9), e.HitCount)
	assert.Equal(created.Add(DefaultTTL), e.ExpiresAt)

	// the tenth crosses the popularity threshold with the expiry inside
	// the ratchet window, so it extends to the premium tier
	_, err = c.Fetch("https://example.com/p")
	require.NoError(t, err)
	e, err = c.Entry(e.URLHash)
	require.NoError(t, err)
	assert.Equal(int64(10), e.HitCount)
	assert.Equal(mock.Now().Add(PremiumTTL), e.ExpiresAt)
}

func TestPopularityRatchetLeavesDistantExpiry(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	// a premium platform entry already expires 30 days out, well past the
	// 14 day ratchet window
	e, err := c.Store("https://www.amazon.com/dp/B0ABC", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	expiry := mock.Now().Add(PremiumTTL)
	assert.Equal(expiry, e.ExpiresAt)

	for i := 0; i < 12; i++ {
		_, err = c.Fetch("https://www.amazon.com/dp/B0ABC")
		require.NoError(t, err)
	}

	e, err = c.Entry(e.URLHash)
	require.NoError(t, err)
	assert.Equal(expiry, e.ExpiresAt)
}

func TestStorePlatformTiering(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	premium, err := c.Store("https://amazon.com.br/dp/B0ABC", &Result{}, 0)
	require.NoError(t, err)
	assert.Equal("amazon", premium.Platform)
	assert.Equal(mock.Now().Add(PremiumTTL), premium.ExpiresAt)

	regular, err := c.Store("https://unknown-shop.com/item", &Result{}, 0)
	require.NoError(t, err)
	assert.Equal(PlatformUnknown, regular.Platform)
	assert.Equal(mock.Now().Add(DefaultTTL), regular.ExpiresAt)
}

func TestStoreExplicitTTLWins(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	e, err := c.Store("https://amazon.com/dp/B0ABC", &Result{}, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(mock.Now().Add(48*time.Hour), e.ExpiresAt)
}

func TestStoreDeclaredPlatformWins(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	e, err := c.Store("https://unknown-shop.com/item", &Result{Platform: "sephora"}, 0)
	require.NoError(t, err)
	assert.Equal("sephora", e.Platform)
}

func TestStoreBlankURLFails(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	_, err := c.Store("", &Result{Title: "t"}, 0)
	assert.Equal(ErrValidation, errors.Cause(err))
}

func TestStoreOverwritePreservesHits(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	first, err := c.Store("https://example.com/p", &Result{Title: "old"}, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = c.Fetch("https://example.com/p")
		require.NoError(t, err)
	}

	second, err := c.Store("https://example.com/p", &Result{Title: "new"}, 0)
	require.NoError(t, err)
	assert.Equal(first.URLHash, second.URLHash)
	assert.Equal("new", second.Title)
	assert.Equal(int64(5), second.HitCount)
	assert.Equal(first.CreatedAt, second.CreatedAt)
}

func TestCleanupIdempotent(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{})

	for _, url := range []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	} {
		_, err := c.Store(url, &Result{Title: "t"}, 0)
		require.NoError(t, err)
	}
	_, err := c.Store("https://amazon.com/dp/B0ABC", &Result{Title: "t"}, 0)
	require.NoError(t, err)

	// past the default tier but not the premium one
	mock.Add(DefaultTTL + time.Hour)

	expired, evicted, err := c.Cleanup()
	require.NoError(t, err)
	assert.Equal(3, expired)
	assert.Equal(0, evicted)

	expired, evicted, err = c.Cleanup()
	require.NoError(t, err)
	assert.Equal(0, expired)
	assert.Equal(0, evicted)

	stats, err := c.Statistics()
	require.NoError(t, err)
	assert.Equal(1, stats.Total)
}

func TestCleanupSizeCap(t *testing.T) {
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{SizeCap: 2})

	_, err := c.Store("https://example.com/1", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	_, err = c.Store("https://example.com/2", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	_, err = c.Store("https://example.com/3", &Result{Title: "t"}, 0)
	require.NoError(t, err)

	// only the third entry gets a hit, making it the most valuable
	mock.Add(time.Minute)
	_, err = c.Fetch("https://example.com/3")
	require.NoError(t, err)

	expired, evicted, err := c.Cleanup()
	require.NoError(t, err)
	assert.Equal(0, expired)
	assert.Equal(1, evicted)

	_, err = c.Fetch("https://example.com/3")
	assert.NoError(err)
}

func TestClearRequiresConfirmation(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	_, err := c.Store("https://example.com/p", &Result{Title: "t"}, 0)
	require.NoError(t, err)

	removed, err := c.Clear(false)
	assert.Equal(ErrNotConfirmed, err)
	assert.Equal(0, removed)

	stats, err := c.Statistics()
	require.NoError(t, err)
	assert.Equal(1, stats.Total)

	removed, err = c.Clear(true)
	require.NoError(t, err)
	assert.Equal(1, removed)

	stats, err = c.Statistics()
	require.NoError(t, err)
	assert.Equal(0, stats.Total)
}

type stubExtractor struct {
	result *Result
	err    error
	calls  int
}

func (s *stubExtractor) Extract(ctx context.Context, url string) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestFetchOrExtract(t *testing.T) {
	assert := assert.New(t)
	stub := &stubExtractor{result: &Result{Title: "Extracted"}}
	c, _ := newTestCache(t, Options{Extractor: stub})

	// miss runs the extractor and stores the result
	meta, err := c.FetchOrExtract(context.Background(), "https://example.com/p")
	require.NoError(t, err)
	assert.Equal("Extracted", meta["title"])
	assert.Equal(false, meta["cached"])
	assert.Equal(1, stub.calls)

	// second call is a pure cache hit
	meta, err = c.FetchOrExtract(context.Background(), "https://example.com/p")
	require.NoError(t, err)
	assert.Equal(true, meta["cached"])
	assert.Equal(1, stub.calls)
}

func TestFetchOrExtractNoExtractor(t *testing.T) {
	assert := assert.New(t)
	c, _ := newTestCache(t, Options{})

	_, err := c.FetchOrExtract(context.Background(), "https://example.com/p")
	assert.Equal(ErrNoExtractor, err)
}

func TestWarmPopularExpired(t *testing.T) {
	assert := assert.New(t)
	stub := &stubExtractor{result: &Result{Title: "Rewarmed"}}
	c, mock := newTestCache(t, Options{Extractor: stub})

	// a popular entry and an unpopular one, both about to expire
	_, err := c.Store("https://example.com/popular", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	_, err = c.Store("https://example.com/quiet", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = c.Fetch("https://example.com/popular")
		require.NoError(t, err)
	}

	mock.Add(PremiumTTL + time.Hour)

	warmed, err := c.WarmPopularExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(1, warmed)
	assert.Equal(1, stub.calls)

	// the warmed entry is readable again, the quiet one stays expired
	meta, err := c.Fetch("https://example.com/popular")
	require.NoError(t, err)
	assert.Equal("Rewarmed", meta["title"])
	_, err = c.Fetch("https://example.com/quiet")
	assert.Equal(ErrNoCache, err)
}

func TestWarmFailuresDoNotAbortPass(t *testing.T) {
	stub := &stubExtractor{err: assert.AnError}
	assert := assert.New(t)
	c, mock := newTestCache(t, Options{Extractor: stub})

	_, err := c.Store("https://example.com/p", &Result{Title: "t"}, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = c.Fetch("https://example.com/p")
		require.NoError(t, err)
	}
	mock.Add(PremiumTTL + time.Hour)

	warmed, err := c.WarmPopularExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(0, warmed)
	assert.Equal(1, stub.calls)
}
