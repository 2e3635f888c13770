// Package temporal finds date and time expressions in page text and
// resolves them to absolute instants relative to the page's capture time.
//
// Extraction is a pure function of (content, reference instant, options):
// no clock reads, no I/O.
package temporal

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abelbrown/recall/internal/store"
)

// DateOrder decides how ambiguous numeric dates such as 03/04/2025 are read.
type DateOrder string

const (
	MDY DateOrder = "MDY"
	DMY DateOrder = "DMY"
)

// ParseDateOrder accepts "MDY" or "DMY" in any case; empty means MDY.
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MDY":
		return MDY, nil
	case "DMY":
		return DMY, nil
	}
	return "", fmt.Errorf("unknown date order %q (want MDY or DMY)", s)
}

// contextChars is how much surrounding text each match carries for display.
const contextChars = 100

// Match is one resolved date expression.
type Match struct {
	Text       string    // matched span, including any time-of-day suffix
	Start, End int       // byte offsets into the content
	Time       time.Time // resolved instant
	HasTime    bool      // a time of day was stated
	Confidence float64
	Kind       string // rule that produced the match
	Context    string // text around the match, for display
}

// Options configures resolution.
type Options struct {
	DefaultHour int            // hour used when no time of day is stated
	DateOrder   DateOrder      // numeric date convention
	Location    *time.Location // nil keeps the reference instant's zone
}

// Extractor resolves date expressions. It is immutable and safe for
// concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor. A DefaultHour outside 0-23 falls back to 9.
func New(opts Options) *Extractor {
	if opts.DefaultHour < 0 || opts.DefaultHour > 23 {
		opts.DefaultHour = 9
	}
	if opts.DateOrder == "" {
		opts.DateOrder = MDY
	}
	return &Extractor{opts: opts}
}

// ExtractPage resolves the dates in a page against its capture time.
func (e *Extractor) ExtractPage(p store.Page) []Match {
	return e.Extract(p.Content, p.CapturedAt)
}

// Extract returns every resolvable date expression in content, ordered by
// descending confidence and then by position. Overlapping expressions keep
// only the one from the more specific rule.
func (e *Extractor) Extract(content string, ref time.Time) []Match {
	if e.opts.Location != nil {
		ref = ref.In(e.opts.Location)
	}

	var matches []Match
	var claimed [][2]int
	for _, r := range rules {
		for _, loc := range r.re.FindAllStringSubmatchIndex(content, -1) {
			start, end := loc[0], loc[1]
			groups := submatches(content, loc)

			d, ok := r.resolve(groups, ref, e.opts)
			if !ok {
				continue
			}

			hour, minute, hasTime := e.opts.DefaultHour, 0, false
			if d.hasTime {
				hour, minute, hasTime = d.hour, d.minute, true
			} else if h, m, n, ok := parseTimeSuffix(content[end:]); ok {
				hour, minute, hasTime = h, m, true
				end += n
			}

			if overlaps(claimed, start, end) {
				continue
			}

			zone := ref.Location()
			if d.zone != nil {
				zone = d.zone
			}
			t, ok := civil(d.year, d.month, d.day, hour, minute, zone)
			if !ok {
				continue
			}
			t = t.Add(time.Duration(d.second) * time.Second).In(ref.Location())

			conf := r.confidence
			if hasTime {
				conf = min(conf+0.03, 1)
			}

			claimed = append(claimed, [2]int{start, end})
			matches = append(matches, Match{
				Text:       content[start:end],
				Start:      start,
				End:        end,
				Time:       t,
				HasTime:    hasTime,
				Confidence: conf,
				Kind:       r.kind,
				Context:    surrounding(content, start, end),
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Start < matches[j].Start
	})
	if matches == nil {
		matches = []Match{}
	}
	return matches
}

// submatches returns the text of every capture group; unmatched groups are "".
func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if a, b := loc[2*i], loc[2*i+1]; a >= 0 {
			out[i] = s[a:b]
		}
	}
	return out
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// civil builds a wall-clock instant and rejects dates that time.Date would
// normalize (Feb 30, month 13).
func civil(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func surrounding(content string, start, end int) string {
	from := max(0, start-contextChars)
	for from > 0 && !utf8.RuneStart(content[from]) {
		from--
	}
	to := min(len(content), end+contextChars)
	for to < len(content) && !utf8.RuneStart(content[to]) {
		to++
	}

	out := strings.Join(strings.Fields(content[from:to]), " ")
	if from > 0 {
		out = "..." + out
	}
	if to < len(content) {
		out += "..."
	}
	return out
}
