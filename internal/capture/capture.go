// Package capture turns fetched HTML or structured payloads into pages.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/abelbrown/recall/internal/logging"
	"github.com/abelbrown/recall/internal/store"
)

// maxPageBytes caps how much HTML is read per page.
const maxPageBytes = 5 << 20

// contentKeys are tried in order when flattening a structured payload.
var contentKeys = []string{"website_content", "output", "content", "extracted_content", "text"}

// Fetcher downloads pages and converts them to text.
type Fetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewFetcher creates a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "recall/1.0 (+page capture)",
		now:       time.Now,
	}
}

// Fetch downloads url and returns a page ready to insert.
func (f *Fetcher) Fetch(ctx context.Context, url string) (store.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return store.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return store.Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Page{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	title, text, err := FromHTML(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return store.Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	if title == "" {
		title = url
	}

	logging.Debug("Page fetched", "url", url, "title", title, "content_len", len(text))

	return store.Page{
		URL:        url,
		Title:      title,
		Content:    text,
		CapturedAt: f.now(),
	}, nil
}

// FromHTML extracts the document title and readable text: headings,
// paragraphs, list items and table cells, with chrome elements removed.
func FromHTML(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}

	title = collapse(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, footer, header, aside, iframe, svg, form").Remove()

	var parts []string
	seen := make(map[string]bool)
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, pre, time").Each(func(_ int, s *goquery.Selection) {
		// Skip containers whose text is repeated by a nested match.
		if s.Find("p, li").Length() > 0 {
			return
		}
		t := collapse(s.Text())
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		parts = append(parts, t)
	})

	if len(parts) == 0 {
		body := collapse(doc.Find("body").Text())
		if body != "" {
			parts = append(parts, body)
		}
	}

	return title, strings.Join(parts, "\n"), nil
}

// FlattenContent extracts text from a payload that may be a string or an
// arbitrarily nested JSON structure. Well-known content keys win; otherwise
// every string leaf is joined with spaces (map keys in sorted order).
func FlattenContent(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return string(val)
		}
		return FlattenContent(decoded)
	case map[string]any:
		for _, k := range contentKeys {
			if inner, ok := val[k]; ok && !isEmpty(inner) {
				return FlattenContent(inner)
			}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if t := FlattenContent(val[k]); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	case []any:
		var parts []string
		for _, item := range val {
			if t := FlattenContent(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(val)
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// collapse squeezes runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
