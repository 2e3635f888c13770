package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// date is a calendar day plus an optional time of day fixed by the rule
// itself (ISO timestamps). zone is set when the text states its own UTC
// offset.
type date struct {
	year                 int
	month                time.Month
	day                  int
	hasTime              bool
	hour, minute, second int
	zone                 *time.Location
}

func dayOf(t time.Time) date {
	return date{year: t.Year(), month: t.Month(), day: t.Day()}
}

// rule maps a phrase pattern to a resolver. Rules are tried in table order;
// a span claimed by an earlier rule cannot be claimed again.
type rule struct {
	kind       string
	re         *regexp.Regexp
	confidence float64
	resolve    func(g []string, ref time.Time, o Options) (date, bool)
}

const (
	monthPat   = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`
	dayPat     = `(\d{1,2})(?:st|nd|rd|th)?`
	weekdayPat = `(mon|tues?|wed(?:nes)?|thu(?:rs?)?|fri|sat(?:ur)?|sun)day`
	countPat   = `(\d{1,3}|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)`
	unitPat    = `(day|week|month|year)s?`
)

var rules = []rule{
	{
		kind:       "iso",
		re:         regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ](\d{2}):(\d{2})(?::(\d{2}))?(?:(Z)|([+-]\d{2}):?(\d{2}))?)?\b`),
		confidence: 0.95,
		resolve: func(g []string, _ time.Time, _ Options) (date, bool) {
			d := date{year: atoi(g[1]), month: time.Month(atoi(g[2])), day: atoi(g[3])}
			if g[4] == "" {
				return d, true
			}
			d.hasTime, d.hour, d.minute, d.second = true, atoi(g[4]), atoi(g[5]), atoi(g[6])
			if d.hour > 23 || d.minute > 59 || d.second > 59 {
				return date{}, false
			}
			switch {
			case g[7] != "":
				d.zone = time.UTC
			case g[8] != "":
				hours, minutes := atoi(g[8]), atoi(g[9])
				if hours < -14 || hours > 14 || minutes > 59 {
					return date{}, false
				}
				offset := hours*3600 + minutes*60
				if strings.HasPrefix(g[8], "-") {
					offset = hours*3600 - minutes*60
				}
				d.zone = time.FixedZone("", offset)
			}
			return d, true
		},
	},
	{
		kind:       "month-day-year",
		re:         regexp.MustCompile(`(?i)\b` + monthPat + `\s+` + dayPat + `,?\s+(\d{4})\b`),
		confidence: 0.9,
		resolve: func(g []string, _ time.Time, _ Options) (date, bool) {
			return date{year: atoi(g[3]), month: monthNumber(g[1]), day: atoi(g[2])}, true
		},
	},
	{
		kind:       "day-month-year",
		re:         regexp.MustCompile(`(?i)\b` + dayPat + `\s+(?:of\s+)?` + monthPat + `,?\s+(\d{4})\b`),
		confidence: 0.9,
		resolve: func(g []string, _ time.Time, _ Options) (date, bool) {
			return date{year: atoi(g[3]), month: monthNumber(g[2]), day: atoi(g[1])}, true
		},
	},
	{
		kind:       "numeric",
		re:         regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4}|\d{2})\b`),
		confidence: 0.7,
		resolve: func(g []string, _ time.Time, o Options) (date, bool) {
			a, b, year := atoi(g[1]), atoi(g[2]), atoi(g[3])
			if len(g[3]) == 2 {
				year += 2000
			}
			if o.DateOrder == DMY {
				a, b = b, a
			}
			return date{year: year, month: time.Month(a), day: b}, true
		},
	},
	{
		kind:       "month-day",
		re:         regexp.MustCompile(`(?i)\b` + monthPat + `\s+` + dayPat + `\b`),
		confidence: 0.6,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			return nextOccurrence(ref, monthNumber(g[1]), atoi(g[2]))
		},
	},
	{
		kind:       "day-month",
		re:         regexp.MustCompile(`(?i)\b` + dayPat + `\s+(?:of\s+)?` + monthPat + `\b`),
		confidence: 0.6,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			return nextOccurrence(ref, monthNumber(g[2]), atoi(g[1]))
		},
	},
	{
		kind:       "relative-day",
		re:         regexp.MustCompile(`(?i)\b(day after tomorrow|tomorrow)\b`),
		confidence: 0.8,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			if strings.EqualFold(g[1], "tomorrow") {
				return dayOf(ref.AddDate(0, 0, 1)), true
			}
			return dayOf(ref.AddDate(0, 0, 2)), true
		},
	},
	{
		kind:       "weekday",
		re:         regexp.MustCompile(`(?i)\b(next|this|coming)\s+` + weekdayPat + `\b`),
		confidence: 0.8,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			target := weekdayNumber(g[2])
			ahead := (int(target) - int(ref.Weekday()) + 7) % 7
			if ahead == 0 && strings.EqualFold(g[1], "next") {
				ahead = 7
			}
			return dayOf(ref.AddDate(0, 0, ahead)), true
		},
	},
	{
		kind:       "offset",
		re:         regexp.MustCompile(`(?i)\bin\s+` + countPat + `\s+` + unitPat + `\b`),
		confidence: 0.75,
		resolve:    resolveOffset,
	},
	{
		kind:       "offset",
		re:         regexp.MustCompile(`(?i)\b` + countPat + `\s+` + unitPat + `\s+from\s+now\b`),
		confidence: 0.75,
		resolve:    resolveOffset,
	},
	{
		kind:       "next-unit",
		re:         regexp.MustCompile(`(?i)\bnext\s+(week|month|year)\b`),
		confidence: 0.65,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			return dayOf(shift(ref, 1, strings.ToLower(g[1]))), true
		},
	},
	{
		kind:       "today",
		re:         regexp.MustCompile(`(?i)\b(today|tonight)\b`),
		confidence: 0.5,
		resolve: func(g []string, ref time.Time, _ Options) (date, bool) {
			d := dayOf(ref)
			if strings.EqualFold(g[1], "tonight") {
				d.hasTime, d.hour = true, 19
			}
			return d, true
		},
	},
}

func resolveOffset(g []string, ref time.Time, _ Options) (date, bool) {
	n, ok := count(g[1])
	if !ok || n == 0 {
		return date{}, false
	}
	return dayOf(shift(ref, n, strings.ToLower(g[2]))), true
}

func shift(ref time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return ref.AddDate(0, 0, n)
	case "week":
		return ref.AddDate(0, 0, 7*n)
	case "month":
		return ref.AddDate(0, n, 0)
	default:
		return ref.AddDate(n, 0, 0)
	}
}

// nextOccurrence picks the first year in which month/day falls on or after
// the reference day. Feb 29 moves on to the next leap year.
func nextOccurrence(ref time.Time, month time.Month, day int) (date, bool) {
	d := date{year: ref.Year(), month: month, day: day}
	if month < ref.Month() || (month == ref.Month() && day < ref.Day()) {
		d.year++
	}
	if month == time.February && day == 29 {
		for !isLeap(d.year) {
			d.year++
		}
	}
	return d, true
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var countWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

func count(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := countWords[strings.ToLower(s)]
	return n, ok
}

func monthNumber(s string) time.Month {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if len(s) < 3 {
		return 0
	}
	switch s[:3] {
	case "jan":
		return time.January
	case "feb":
		return time.February
	case "mar":
		return time.March
	case "apr":
		return time.April
	case "may":
		return time.May
	case "jun":
		return time.June
	case "jul":
		return time.July
	case "aug":
		return time.August
	case "sep":
		return time.September
	case "oct":
		return time.October
	case "nov":
		return time.November
	case "dec":
		return time.December
	}
	return 0
}

func weekdayNumber(s string) time.Weekday {
	switch strings.ToLower(s)[:2] {
	case "mo":
		return time.Monday
	case "tu":
		return time.Tuesday
	case "we":
		return time.Wednesday
	case "th":
		return time.Thursday
	case "fr":
		return time.Friday
	case "sa":
		return time.Saturday
	}
	return time.Sunday
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var (
	clockRe    = regexp.MustCompile(`(?i)^,?\s*(?:(?:at|@)\s*)?(\d{1,2}):(\d{2})\b(?:\s*([ap])\.?m\b\.?)?`)
	meridiemRe = regexp.MustCompile(`(?i)^,?\s*(?:(?:at|@)\s*)?(\d{1,2})\s*([ap])\.?m\b\.?`)
	atHourRe   = regexp.MustCompile(`(?i)^,?\s*(?:at|@)\s*(\d{1,2})\b`)
	namedRe    = regexp.MustCompile(`(?i)^,?\s*(?:(?:at|@)\s*)?(noon|midnight)\b`)
)

// parseTimeSuffix reads a time of day at the start of s ("at 3pm",
// " 15:00", ", noon") and reports how many bytes it used.
func parseTimeSuffix(s string) (hour, minute, n int, ok bool) {
	if m := clockRe.FindStringSubmatch(s); m != nil {
		hour, minute = atoi(m[1]), atoi(m[2])
		if m[3] != "" {
			if hour, ok = meridiem(hour, m[3]); !ok {
				return 0, 0, 0, false
			}
		}
		if hour > 23 || minute > 59 {
			return 0, 0, 0, false
		}
		return hour, minute, len(m[0]), true
	}
	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		if hour, ok = meridiem(atoi(m[1]), m[2]); !ok {
			return 0, 0, 0, false
		}
		return hour, 0, len(m[0]), true
	}
	if m := atHourRe.FindStringSubmatch(s); m != nil {
		hour = atoi(m[1])
		if hour > 23 {
			return 0, 0, 0, false
		}
		return hour, 0, len(m[0]), true
	}
	if m := namedRe.FindStringSubmatch(s); m != nil {
		if strings.EqualFold(m[1], "noon") {
			return 12, 0, len(m[0]), true
		}
		return 0, 0, len(m[0]), true
	}
	return 0, 0, 0, false
}

// meridiem converts a 12-hour clock reading to 24-hour.
func meridiem(hour int, ap string) (int, bool) {
	if hour < 1 || hour > 12 {
		return 0, false
	}
	hour %= 12
	if strings.EqualFold(ap, "p") {
		hour += 12
	}
	return hour, true
}
