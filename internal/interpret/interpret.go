// Package interpret turns raw synthesis text into a structured answer:
// the conversational text plus the saved pages (and stray links) it refers
// to. Model output is treated as untrusted prose; nothing here assumes a
// schema.
package interpret

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/abelbrown/recall/internal/retrieve"
)

var (
	urlRe      = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)
	citationRe = regexp.MustCompile(`(?i)\[page:\s*(\d+)\]`)
)

// Ref is one reference found in model output, in order of appearance.
// Exactly one of URL and PageID is set.
type Ref struct {
	URL    string
	PageID int64
}

// Scan finds URL mentions and [page:N] citations in text.
func Scan(text string) []Ref {
	type hit struct {
		pos int
		ref Ref
	}
	var hits []hit
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		u := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?*_`")
		if u == "" || strings.HasSuffix(u, "://") {
			continue
		}
		hits = append(hits, hit{pos: loc[0], ref: Ref{URL: u}})
	}
	for _, m := range citationRe.FindAllStringSubmatchIndex(text, -1) {
		id, err := strconv.ParseInt(text[m[2]:m[3]], 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, hit{pos: m[0], ref: Ref{PageID: id}})
	}

	// URLs and citations never overlap, so position order is total.
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	refs := make([]Ref, len(hits))
	for i, h := range hits {
		refs[i] = h.ref
	}
	return refs
}

// Item is a page or link surfaced alongside the answer. PageID is zero for
// links that are not saved pages.
type Item struct {
	PageID  int64  `json:"id,omitempty"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"content_snippet,omitempty"`
	Excerpt string `json:"-"`
}

// Result is the structured form of a synthesis answer.
type Result struct {
	ConversationalResponse string   `json:"conversational_response"`
	Items                  []Item   `json:"items"`
	Links                  []string `json:"links,omitempty"` // every URL mentioned, as written
	Fallback               bool     `json:"fallback,omitempty"`
}

// Interpret cross-references the references in raw against candidates.
// Items keep the order in which the answer first mentions them and never
// repeat a page or URL. When no reference resolves to a candidate (none at
// all, unknown [page:N] ids, or only outside links) and candidates exist,
// the top candidate is attached so the caller always has a saved page to
// link to.
func Interpret(raw string, candidates []retrieve.Candidate) Result {
	res := Result{
		ConversationalResponse: strings.TrimSpace(raw),
		Items:                  []Item{},
	}

	byURL := make(map[string]int, len(candidates))
	byID := make(map[int64]int, len(candidates))
	for i, c := range candidates {
		if key := Normalize(c.URL); key != "" {
			if _, dup := byURL[key]; !dup {
				byURL[key] = i
			}
		}
		byID[c.PageID] = i
	}

	seenPage := make(map[int64]bool)
	seenURL := make(map[string]bool)
	addCandidate := func(i int) {
		c := candidates[i]
		if seenPage[c.PageID] {
			return
		}
		seenPage[c.PageID] = true
		seenURL[Normalize(c.URL)] = true
		res.Items = append(res.Items, itemFor(c))
	}

	for _, ref := range Scan(raw) {
		if ref.URL == "" {
			if i, ok := byID[ref.PageID]; ok {
				addCandidate(i)
			}
			continue
		}

		res.Links = append(res.Links, ref.URL)
		key := Normalize(ref.URL)
		if i, ok := byURL[key]; ok {
			addCandidate(i)
			continue
		}
		if !seenURL[key] {
			seenURL[key] = true
			res.Items = append(res.Items, Item{URL: ref.URL})
		}
	}

	if len(seenPage) == 0 && len(candidates) > 0 {
		res.Items = append(res.Items, itemFor(candidates[0]))
		res.Fallback = true
	}
	return res
}

// GroundedIDs returns the candidate page ids referenced in text, by URL or
// citation, in order of first reference.
func GroundedIDs(text string, candidates []retrieve.Candidate) []int64 {
	res := Interpret(text, candidates)
	ids := []int64{}
	if res.Fallback {
		return ids
	}
	for _, it := range res.Items {
		if it.PageID != 0 {
			ids = append(ids, it.PageID)
		}
	}
	return ids
}

// FromCandidates lists candidates as items without an answer. Used when
// synthesis is unavailable.
func FromCandidates(candidates []retrieve.Candidate) []Item {
	items := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, itemFor(c))
	}
	return items
}

func itemFor(c retrieve.Candidate) Item {
	return Item{PageID: c.PageID, URL: c.URL, Title: c.Title, Snippet: c.Snippet, Excerpt: c.Excerpt}
}

// Normalize reduces a URL to a comparison key: lower-case scheme and host,
// no "www.", no fragment, no trailing slash. Unparseable input is returned
// trimmed and lower-cased.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		scheme = "https"
	}
	key := scheme + "://" + host + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
