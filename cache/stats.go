package cache

import "time"

// topEntryCount is the number of most-hit URLs reported in Stats
const topEntryCount = 10

// TopEntry is one row of the most-hit URL ranking
type TopEntry struct {
	NormalizedURL string `json:"normalized_url"`
	HitCount      int64  `json:"hit_count"`
}

// Stats is a point-in-time aggregate report over the whole cache table.
// It is recomputed on every call and not transactionally consistent with
// concurrent writes.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
	Popular int `json:"popular"`

	ByPlatform map[string]int `json:"by_platform"`

	TotalHits   int64   `json:"total_hits"`
	AverageHits float64 `json:"average_hits"`

	// MetadataBytes approximates the storage taken by the raw metadata
	// blobs, 0 when the backend cannot estimate it
	MetadataBytes int64 `json:"metadata_bytes"`

	OldestCreatedAt time.Time `json:"oldest_created_at"`
	NewestCreatedAt time.Time `json:"newest_created_at"`

	TopEntries []TopEntry `json:"top_entries"`
}
