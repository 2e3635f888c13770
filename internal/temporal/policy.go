package temporal

import (
	"fmt"
	"strings"
	"time"
)

// Policy picks the one match that proceeds to event creation.
type Policy string

const (
	// HighestConfidence takes the most confident match, first in the text
	// on ties.
	HighestConfidence Policy = "highest-confidence"
	// SoonestFuture takes the earliest match at or after the reference
	// instant, falling back to HighestConfidence when none is in the future.
	SoonestFuture Policy = "soonest-future"
)

// ParsePolicy accepts a policy name; empty means HighestConfidence.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", HighestConfidence:
		return HighestConfidence, nil
	case SoonestFuture:
		return SoonestFuture, nil
	}
	return "", fmt.Errorf("unknown selection policy %q", s)
}

// Select applies policy to matches as returned by Extract. It reports false
// when there is nothing to select.
func Select(matches []Match, policy Policy, ref time.Time) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	if policy == SoonestFuture {
		best := -1
		for i, m := range matches {
			if m.Time.Before(ref) {
				continue
			}
			if best < 0 || m.Time.Before(matches[best].Time) {
				best = i
			}
		}
		if best >= 0 {
			return matches[best], true
		}
	}
	return matches[0], true
}
