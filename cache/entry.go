package cache

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrValidation represents an entry that is missing required fields
	ErrValidation = errors.New("cache entry is missing required fields")
)

// Entry represents a cached URL metadata row
type Entry struct {
	// URL is the original input URL as last seen
	URL string `json:"url"`
	// NormalizedURL is the canonicalized form of URL
	NormalizedURL string `json:"normalized_url"`
	// URLHash is the digest of NormalizedURL and the unique lookup key
	URLHash string `json:"url_hash"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	// Price is the extracted price, nil when the extractor found none
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency,omitempty"`
	// Platform is the classification tag of the source shop
	Platform string `json:"platform,omitempty"`
	// ExtractionMethod records which extractor strategy produced the data
	ExtractionMethod string `json:"extraction_method,omitempty"`
	// Metadata holds the raw extractor payload as stored
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// HitCount is incremented on every successful read
	HitCount       int64     `json:"hit_count"`
	ExtractedAt    time.Time `json:"extracted_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	// ExpiresAt marks the entry stale once passed, it is only ever extended
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result represents the output shape of a metadata extractor
type Result struct {
	Title            string
	Description      string
	Image            string
	Price            *float64
	Currency         string
	Platform         string
	ExtractionMethod string
	// Metadata is the raw extractor payload, kept as a superset of the
	// named fields above
	Metadata map[string]interface{}
}

// Validate checks the fields downstream reads assume to be present
func (e *Entry) Validate() error {
	if e.URL == "" || e.NormalizedURL == "" || e.URLHash == "" {
		return ErrValidation
	}

	return nil
}

// Expired reports whether the entry is stale at the given time
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Projection returns the metadata response for a read. The raw Metadata
// payload is merged first, the named fields win on key conflicts.
func (e *Entry) Projection(cached bool) map[string]interface{} {
	out := make(map[string]interface{}, len(e.Metadata)+9)
	for k, v := range e.Metadata {
		out[k] = v
	}
	out["title"] = e.Title
	out["description"] = e.Description
	out["image"] = e.ImageURL
	if e.Price != nil {
		out["price"] = *e.Price
	}
	if e.Currency != "" {
		out["currency"] = e.Currency
	}
	out["platform"] = e.Platform
	out["cached"] = cached
	out["cached_at"] = e.ExtractedAt
	out["cache_expires_at"] = e.ExpiresAt

	return out
}

// clone returns a copy so callers can't mutate stored state
func (e *Entry) clone() *Entry {
	c := *e
	if e.Price != nil {
		p := *e.Price
		c.Price = &p
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}

	return &c
}
