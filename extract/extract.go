// Package extract implements the HTML metadata extraction strategy the
// cache wraps: it fetches a page and reads its title, description,
// OpenGraph and product price tags.
package extract

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/chrisvdg/metacache/cache"
)

const (
	// maxBodyBytes bounds how much of a page is read for metadata
	maxBodyBytes = 1 << 20
	userAgent    = "metacache/1.0 (+https://github.com/chrisvdg/metacache)"
)

// NewHTML returns an extractor that scrapes metadata from page HTML
func NewHTML(timeout time.Duration) *HTML {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTML{
		client: &http.Client{Timeout: timeout},
	}
}

// HTML extracts metadata by fetching and tokenizing page markup
type HTML struct {
	client *http.Client
}

// Extract implements cache.Extractor
func (h *HTML) Extract(ctx context.Context, rawURL string) (*cache.Result, error) {
	target := cache.Normalize(rawURL)
	if target == "" {
		return nil, errors.New("blank URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build page request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "page request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("page request returned status %d", resp.StatusCode)
	}

	meta := parseMeta(io.LimitReader(resp.Body, maxBodyBytes))

	res := &cache.Result{
		Title:            firstOf(meta["og:title"], meta["title"]),
		Description:      firstOf(meta["description"], meta["og:description"]),
		Image:            firstOf(meta["og:image"], meta["twitter:image"]),
		Currency:         firstOf(meta["product:price:currency"], meta["og:price:currency"]),
		Platform:         cache.DetectPlatform(rawURL),
		ExtractionMethod: "html",
		Metadata:         make(map[string]interface{}, len(meta)),
	}
	if p, ok := parsePrice(firstOf(meta["product:price:amount"], meta["og:price:amount"])); ok {
		res.Price = &p
	}
	for k, v := range meta {
		res.Metadata[k] = v
	}

	return res, nil
}

// parseMeta tokenizes markup and collects the title text and meta tags.
// Parsing stops at the end of the document head, metadata lives there.
func parseMeta(r io.Reader) map[string]string {
	meta := make(map[string]string)
	z := html.NewTokenizer(r)
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return meta
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.Data {
			case "title":
				inTitle = true
			case "meta":
				var name, content string
				for _, a := range t.Attr {
					switch a.Key {
					case "name", "property":
						name = strings.ToLower(a.Val)
					case "content":
						content = strings.TrimSpace(a.Val)
					}
				}
				if name != "" && content != "" {
					if _, ok := meta[name]; !ok {
						meta[name] = content
					}
				}
			case "body":
				return meta
			}
		case html.TextToken:
			if inTitle {
				if title := strings.TrimSpace(string(z.Text())); title != "" && meta["title"] == "" {
					meta["title"] = title
				}
			}
		case html.EndTagToken:
			t := z.Token()
			if t.Data == "title" {
				inTitle = false
			}
			if t.Data == "head" {
				return meta
			}
		}
	}
}

// parsePrice reads a non-negative decimal, tolerating a comma decimal mark
func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	}
	if err != nil || p < 0 {
		return 0, false
	}

	return p, true
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
