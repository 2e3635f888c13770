// Package retrieve ranks saved pages against a free-text query.
// Retrieval is read-only, synchronous and deterministic.
package retrieve

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/recall/internal/store"
)

// ErrInvalidQuery is returned for an empty or whitespace-only query.
var ErrInvalidQuery = errors.New("invalid query: query is empty")

// PageSource is the slice of the page store the retriever needs.
type PageSource interface {
	TextMatch(terms []string, limit int) ([]store.Page, error)
}

// Candidate is a ranked page plus the text used to answer and display it.
type Candidate struct {
	PageID     int64
	URL        string
	Title      string
	CapturedAt time.Time
	Score      float64
	Matched    []string // query terms found in the page
	Excerpt    string   // context sent to synthesis
	Snippet    string   // short display text
}

// Options tunes scoring and excerpt sizes.
type Options struct {
	ExcerptChars int     // default 1000
	SnippetChars int     // default 250
	TitleWeight  float64 // bonus per term also found in the title; default 2, negative disables
	PoolSize     int     // best-matching pages pulled from the store per query; default 200
}

func (o Options) withDefaults() Options {
	if o.ExcerptChars <= 0 {
		o.ExcerptChars = 1000
	}
	if o.SnippetChars <= 0 {
		o.SnippetChars = 250
	}
	switch {
	case o.TitleWeight == 0:
		o.TitleWeight = 2
	case o.TitleWeight < 0:
		o.TitleWeight = 0
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 200
	}
	return o
}

// Retriever turns a query into a size-bounded, ranked candidate list.
type Retriever struct {
	src  PageSource
	opts Options
}

// New creates a Retriever over src.
func New(src PageSource, opts Options) *Retriever {
	return &Retriever{src: src, opts: opts.withDefaults()}
}

// Retrieve returns at most limit candidates ordered by descending score,
// then most recent capture, then insertion order. Pages without any query
// term are never returned, so an empty result means "no match".
func (r *Retriever) Retrieve(query string, limit int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", ErrInvalidQuery)
	}

	terms := QueryTerms(query)
	if len(terms) == 0 {
		return []Candidate{}, nil
	}

	pages, err := r.src.TextMatch(terms, r.opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	candidates := make([]Candidate, 0, len(pages))
	for _, p := range pages {
		if c, ok := r.score(p, terms); ok {
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.After(b.CapturedAt)
		}
		return a.PageID < b.PageID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// score computes the term overlap between terms and the page. Every term
// present in the page counts 1, plus TitleWeight when it is in the title.
func (r *Retriever) score(p store.Page, terms []string) (Candidate, bool) {
	titleSet := make(map[string]bool)
	for _, t := range tokenize([]rune(p.Title)) {
		titleSet[t.text] = true
	}

	content := []rune(p.Content)
	firstPos := make(map[string]int)
	for _, t := range tokenize(content) {
		if _, ok := firstPos[t.text]; !ok {
			firstPos[t.text] = t.start
		}
	}

	var score float64
	var matched []string
	hit := -1
	for _, term := range terms {
		pos, inContent := firstPos[term]
		inTitle := titleSet[term]
		if !inContent && !inTitle {
			continue
		}
		matched = append(matched, term)
		score++
		if inTitle {
			score += r.opts.TitleWeight
		}
		if inContent && (hit < 0 || pos < hit) {
			hit = pos
		}
	}
	if score == 0 {
		return Candidate{}, false
	}

	return Candidate{
		PageID:     p.ID,
		URL:        p.URL,
		Title:      p.Title,
		CapturedAt: p.CapturedAt,
		Score:      score,
		Matched:    matched,
		Excerpt:    window(content, hit, r.opts.ExcerptChars),
		Snippet:    window(content, hit, r.opts.SnippetChars),
	}, true
}

// window returns about size runes of text centred on pos, nudged to word
// boundaries and marked with ellipses where text was cut. A negative pos
// takes the start of the text.
func window(text []rune, pos, size int) string {
	if len(text) <= size {
		return strings.TrimSpace(string(text))
	}
	if pos < 0 {
		pos = 0
	}

	start := pos - size/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(text) {
		end = len(text)
		start = end - size
	}

	if start > 0 {
		if i := indexSpace(text, start, min(start+20, pos)); i >= 0 {
			start = i + 1
		}
	}
	if end < len(text) {
		if i := lastIndexSpace(text, max(end-20, start), end); i >= 0 {
			end = i
		}
	}

	out := strings.TrimSpace(string(text[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

func indexSpace(text []rune, from, to int) int {
	for i := from; i < to && i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\n' {
			return i
		}
	}
	return -1
}

func lastIndexSpace(text []rune, from, to int) int {
	for i := to - 1; i >= from && i >= 0; i-- {
		if text[i] == ' ' || text[i] == '\n' {
			return i
		}
	}
	return -1
}
