package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(t *testing.T, rawURL string) *Entry {
	t.Helper()

	normalized, hash := HashURL(rawURL)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	return &Entry{
		URL:           rawURL,
		NormalizedURL: normalized,
		URLHash:       hash,
		Title:         "title",
		ExtractedAt:   now,
		ExpiresAt:     now.Add(DefaultTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemStoreUpsertValidation(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	_, err = s.Upsert(&Entry{URL: "https://example.com/p"})
	assert.Equal(ErrValidation, err)
}

func TestMemStoreGetNotFound(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	_, err = s.Get("nope")
	assert.Equal(ErrEntryNotFound, err)

	_, err = s.Touch("nope", time.Now(), time.Time{})
	assert.Equal(ErrEntryNotFound, err)

	assert.Equal(ErrEntryNotFound, s.Delete("nope"))
}

func TestMemStoreEvictionOrder(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	a := testEntry(t, "https://example.com/a")
	a.HitCount = 1
	a.LastAccessedAt = old
	b := testEntry(t, "https://example.com/b")
	b.HitCount = 50
	b.LastAccessedAt = old
	c := testEntry(t, "https://example.com/c")
	c.HitCount = 1
	c.LastAccessedAt = recent

	for _, e := range []*Entry{a, b, c} {
		_, err := s.Upsert(e)
		require.NoError(t, err)
	}

	// lowest hit count with oldest access loses first
	evicted, err := s.EvictOverCap(2)
	require.NoError(t, err)
	assert.Equal(1, evicted)

	_, err = s.Get(a.URLHash)
	assert.Equal(ErrEntryNotFound, err)
	_, err = s.Get(b.URLHash)
	assert.NoError(err)
	_, err = s.Get(c.URLHash)
	assert.NoError(err)
}

func TestMemStoreEvictUnderCapIsNoop(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	_, err = s.Upsert(testEntry(t, "https://example.com/a"))
	require.NoError(t, err)

	evicted, err := s.EvictOverCap(10)
	require.NoError(t, err)
	assert.Equal(0, evicted)

	evicted, err = s.EvictOverCap(0)
	require.NoError(t, err)
	assert.Equal(0, evicted)
}

func TestMemStoreSnapshotRoundTrip(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "snapshot.json")

	s, err := NewMemStore(path)
	require.NoError(t, err)

	e := testEntry(t, "https://example.com/p")
	e.Metadata = map[string]interface{}{"site_name": "Example"}
	_, err = s.Upsert(e)
	require.NoError(t, err)
	_, err = s.Touch(e.URLHash, e.CreatedAt.Add(time.Minute), time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reloaded, err := NewMemStore(path)
	require.NoError(t, err)

	got, err := reloaded.Get(e.URLHash)
	require.NoError(t, err)
	assert.Equal(e.URL, got.URL)
	assert.Equal(e.URLHash, got.URLHash)
	assert.Equal("title", got.Title)
	assert.Equal(int64(1), got.HitCount)
	assert.Equal("Example", got.Metadata["site_name"])
}

func TestMemStoreStats(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	live := testEntry(t, "https://amazon.com/dp/B0ABC")
	live.Platform = "amazon"
	live.HitCount = 12
	live.Metadata = map[string]interface{}{"site_name": "Amazon"}
	stale := testEntry(t, "https://example.com/old")
	stale.Platform = PlatformUnknown
	stale.HitCount = 2
	stale.ExpiresAt = now.Add(-time.Hour)
	stale.CreatedAt = now.Add(-48 * time.Hour)

	for _, e := range []*Entry{live, stale} {
		_, err := s.Upsert(e)
		require.NoError(t, err)
	}

	st, err := s.Stats(now, PopularThreshold)
	require.NoError(t, err)

	assert.Equal(2, st.Total)
	assert.Equal(1, st.Valid)
	assert.Equal(1, st.Expired)
	assert.Equal(1, st.Popular)
	assert.Equal(1, st.ByPlatform["amazon"])
	assert.Equal(1, st.ByPlatform[PlatformUnknown])
	assert.Equal(int64(14), st.TotalHits)
	assert.Equal(7.0, st.AverageHits)
	assert.True(st.MetadataBytes > 0)
	assert.Equal(stale.CreatedAt, st.OldestCreatedAt)
	assert.Equal(live.CreatedAt, st.NewestCreatedAt)
	require.Len(t, st.TopEntries, 2)
	assert.Equal(live.NormalizedURL, st.TopEntries[0].NormalizedURL)
	assert.Equal(int64(12), st.TopEntries[0].HitCount)
}

func TestMemStoreListFilters(t *testing.T) {
	assert := assert.New(t)
	s, err := NewMemStore("")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	amazon := testEntry(t, "https://amazon.com/dp/1")
	amazon.Platform = "amazon"
	amazon.HitCount = 20
	nike := testEntry(t, "https://nike.com/shoe")
	nike.Platform = "nike"
	nike.HitCount = 3
	expired := testEntry(t, "https://example.com/x")
	expired.Platform = PlatformUnknown
	expired.ExpiresAt = now.Add(-time.Minute)

	for _, e := range []*Entry{amazon, nike, expired} {
		_, err := s.Upsert(e)
		require.NoError(t, err)
	}

	got, err := s.List(ListFilter{Platform: "amazon"}, now, PopularThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(amazon.URLHash, got[0].URLHash)

	got, err = s.List(ListFilter{PopularOnly: true}, now, PopularThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(amazon.URLHash, got[0].URLHash)

	got, err = s.List(ListFilter{ExpiredOnly: true}, now, PopularThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(expired.URLHash, got[0].URLHash)

	got, err = s.List(ListFilter{Sort: "hits"}, now, PopularThreshold)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(amazon.URLHash, got[0].URLHash)

	got, err = s.List(ListFilter{Sort: "hits", Limit: 2}, now, PopularThreshold)
	require.NoError(t, err)
	assert.Len(got, 2)
}
