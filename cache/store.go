package cache

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrEntryNotFound represents an error where a cache entry was not found
	ErrEntryNotFound = errors.New("cache entry not found")
)

// ListFilter narrows and orders an admin listing of cache entries
type ListFilter struct {
	// Platform keeps only entries with this platform tag
	Platform string
	// PopularOnly keeps only entries at or above the popularity threshold
	PopularOnly bool
	// ExpiredOnly keeps only entries already past their expiry
	ExpiredOnly bool
	// Sort is one of "hits", "recent", "expiry" or "created" (default)
	Sort string
	// Limit caps the number of returned entries, 0 means no cap
	Limit int
}

// Store persists cache entries keyed by their unique URL hash.
//
// Implementations coordinate concurrent access themselves; the cache layer
// holds no locks of its own. All operations are synchronous and local.
type Store interface {
	// Get returns the entry for a hash or ErrEntryNotFound
	Get(hash string) (*Entry, error)
	// Upsert creates the entry or overwrites the content fields of an
	// existing row with the same hash. Hit count, creation time and last
	// access survive an update. Racing writers for the same hash resolve
	// last-write-wins, never as an error to the caller.
	Upsert(e *Entry) (*Entry, error)
	// Touch records a read: increments the hit count and sets the last
	// access time. A non-zero expires extends the expiry in the same
	// operation. Returns the updated entry.
	Touch(hash string, access time.Time, expires time.Time) (*Entry, error)
	// Delete removes one entry, ErrEntryNotFound when absent
	Delete(hash string) error
	// DeleteExpired removes all entries expired at now, returns the count
	DeleteExpired(now time.Time) (int, error)
	// EvictOverCap removes entries beyond the size cap ordered by
	// (hit count ascending, last access ascending), returns the count
	EvictOverCap(cap int) (int, error)
	// PopularExpired lists entries that are expired but popular
	PopularExpired(now time.Time, threshold int64) ([]*Entry, error)
	// List returns entries matching the filter
	List(f ListFilter, now time.Time, threshold int64) ([]*Entry, error)
	// Clear removes every entry, returns the count removed
	Clear() (int, error)
	// Count returns the total number of entries
	Count() (int, error)
	// Stats aggregates the whole table into a report
	Stats(now time.Time, threshold int64) (*Stats, error)
	// Close releases the underlying storage
	Close() error
}
