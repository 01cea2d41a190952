package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during normalization so that
// share links pointing at the same page dedup to the same cache key
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"ref":          {},
	"affiliate_id": {},
	"source":       {},
	"tag":          {},
}

// Normalize canonicalizes a raw URL into the stable cache key basis.
// A missing scheme defaults to https, tracking parameters and the fragment
// are stripped and the host is lowercased. Returns an empty string for
// blank input and the input unchanged when it cannot be parsed.
func Normalize(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		// best effort, the raw string still hashes deterministically
		return s
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			for k := range q {
				if _, ok := trackingParams[strings.ToLower(k)]; ok {
					delete(q, k)
				}
			}
			u.RawQuery = q.Encode()
		}
	}

	return u.String()
}

// Hash returns the hex encoded SHA-256 digest of a normalized URL
func Hash(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// HashURL normalizes a raw URL and returns its hash.
// The empty string marks input that normalized to nothing.
func HashURL(rawURL string) (normalized, hash string) {
	normalized = Normalize(rawURL)
	if normalized == "" {
		return "", ""
	}

	return normalized, Hash(normalized)
}
