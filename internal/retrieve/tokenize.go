package retrieve

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// minTokenLen drops single-character tokens ("a", "i", stray digits).
const minTokenLen = 2

// stopwords are dropped from queries unless nothing else is left.
var stopwords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true, "but": true, "is": true,
	"are": true, "was": true, "were": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "with": true, "by": true, "about": true, "like": true,
	"through": true, "over": true, "before": true, "between": true, "after": true,
	"from": true, "up": true, "down": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "of": true, "that": true, "this": true,
	"what": true, "which": true, "who": true, "my": true, "me": true, "it": true,
}

// token is a normalized word and its rune offset in the source text.
type token struct {
	text  string
	start int
}

// tokenize splits text on anything that is not a letter or digit, the same
// boundary rule the store's FTS index uses, then case-folds and strips
// accents from each piece.
func tokenize(runes []rune) []token {
	fold := cases.Fold()
	var tokens []token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start >= minTokenLen {
			tokens = append(tokens, token{text: normalize(fold, string(runes[start:end])), start: start})
		}
		start = -1
	}
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(runes))
	return tokens
}

func normalize(fold cases.Caser, s string) string {
	s = fold.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QueryTerms returns the distinct normalized terms of a query in order of
// first appearance. Stop words are dropped unless every term is a stop word.
func QueryTerms(query string) []string {
	all := tokenize([]rune(query))

	seen := make(map[string]bool, len(all))
	var kept, fallback []string
	for _, t := range all {
		if seen[t.text] {
			continue
		}
		seen[t.text] = true
		fallback = append(fallback, t.text)
		if !stopwords[t.text] {
			kept = append(kept, t.text)
		}
	}
	if len(kept) == 0 {
		return fallback
	}
	return kept
}
