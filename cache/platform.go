package cache

import (
	"net/url"
	"strings"
)

// PlatformUnknown tags a valid host that matched no known platform
const PlatformUnknown = "unknown"

// platformPatterns is the ordered host substring table, first match wins
var platformPatterns = []struct {
	substr string
	tag    string
}{
	{"amazon", "amazon"},
	{"mercado", "mercadolivre"},
	{"nike", "nike"},
	{"adidas", "adidas"},
	{"sephora", "sephora"},
	{"magazineluiza", "magalu"},
	{"magalu", "magalu"},
	{"myshopify", "shopify"},
	{"shopify", "shopify"},
	{"nuvemshop", "nuvemshop"},
	{"tiendanube", "nuvemshop"},
}

// premiumPlatforms get the long default cache duration
var premiumPlatforms = map[string]struct{}{
	"amazon":       {},
	"mercadolivre": {},
	"nike":         {},
	"adidas":       {},
	"sephora":      {},
}

// DetectPlatform classifies a URL by its host.
// Returns an empty string when no host can be extracted. Never fails in a
// way that should block a store operation.
func DetectPlatform(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	for _, p := range platformPatterns {
		if strings.Contains(host, p.substr) {
			return p.tag
		}
	}

	return PlatformUnknown
}

// IsPremiumPlatform reports whether a platform tag is in the premium set
func IsPremiumPlatform(tag string) bool {
	_, ok := premiumPlatforms[tag]
	return ok
}
