// Package term canonicalizes academic term labels.
//
// Term labels come from humans and from course metadata, in many shapes
// ("Spring 2023", "2023 Spring", "SP23", "Fall '22"). The canonical key
// is the deduplication axis for sends, so Key must be total: every
// label, even an unparseable one, maps to some stable key.
package term

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type Season string

const (
	Winter Season = "winter"
	Spring Season = "spring"
	Summer Season = "summer"
	Fall   Season = "fall"
)

// Term is a parsed (season, year) pair.
type Term struct {
	Season Season
	Year   int
}

func (t Term) String() string { return fmt.Sprintf("%s %d", t.Season, t.Year) }

// Key returns the canonical dedupe key for a label:
// parsed labels become "season-year" ("spring-2023"), everything else is
// slugged verbatim so the mapping stays total and deterministic.
func Key(label string) string {
	if t, ok := Parse(label); ok {
		return fmt.Sprintf("%s-%d", t.Season, t.Year)
	}
	s := slug(label)
	if s == "" {
		return "unknown-term"
	}
	return s
}

var seasonNames = map[string]Season{
	"winter": Winter, "wi": Winter, "win": Winter, "wtr": Winter,
	"spring": Spring, "sp": Spring, "spr": Spring, "sprg": Spring,
	"summer": Summer, "su": Summer, "sum": Summer, "smr": Summer,
	"fall": Fall, "fa": Fall, "fl": Fall, "autumn": Fall, "au": Fall, "aut": Fall,
}

// Parse extracts a (season, year) pair from a free-form label.
// It tolerates either ordering, abbreviations, glued forms ("SP23",
// "FA2022") and apostrophe years ("Fall '22"). Two-digit years are
// pivoted into 2000-2099.
func Parse(label string) (Term, bool) {
	var (
		season  Season
		hasSzn  bool
		year    int
		hasYear bool
	)

	for _, tok := range tokenize(label) {
		lower := strings.ToLower(tok)
		if s, ok := seasonNames[lower]; ok {
			if !hasSzn {
				season, hasSzn = s, true
			}
			continue
		}
		if y, ok := parseYear(tok); ok {
			if !hasYear {
				year, hasYear = y, true
			}
			continue
		}
		// Glued season+year, e.g. "SP23" or "Fall2022".
		if s, y, ok := splitGlued(lower); ok {
			if !hasSzn {
				season, hasSzn = s, true
			}
			if !hasYear {
				year, hasYear = y, true
			}
			continue
		}
	}

	if !hasSzn || !hasYear {
		return Term{}, false
	}
	return Term{Season: season, Year: year}, true
}

// SeasonMonths returns the inclusive month range a season's course
// offering typically spans. Used as a fallback when a course carries no
// usable term metadata and we only have start/end dates.
func SeasonMonths(s Season) (from, to time.Month) {
	switch s {
	case Winter:
		return time.December, time.February
	case Spring:
		return time.January, time.May
	case Summer:
		return time.May, time.August
	case Fall:
		return time.August, time.December
	default:
		return time.January, time.December
	}
}

// InSeason reports whether a date's month falls in the season's range,
// handling ranges that wrap the year boundary (winter).
func InSeason(s Season, at time.Time) bool {
	from, to := SeasonMonths(s)
	m := at.Month()
	if from <= to {
		return m >= from && m <= to
	}
	return m >= from || m <= to
}

func tokenize(label string) []string {
	return strings.FieldsFunc(label, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func parseYear(tok string) (int, bool) {
	t := strings.TrimPrefix(tok, "'")
	if t == "" {
		return 0, false
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	switch {
	case n >= 1900 && n <= 2199:
		return n, true
	case len(t) == 2 && n >= 0:
		return 2000 + n, true
	default:
		return 0, false
	}
}

func splitGlued(tok string) (Season, int, bool) {
	i := 0
	for i < len(tok) && tok[i] >= 'a' && tok[i] <= 'z' {
		i++
	}
	if i == 0 || i == len(tok) {
		return "", 0, false
	}
	s, ok := seasonNames[tok[:i]]
	if !ok {
		return "", 0, false
	}
	y, ok := parseYear(tok[i:])
	if !ok {
		return "", 0, false
	}
	return s, y, true
}

func slug(label string) string {
	var b strings.Builder
	lastHyphen := true // trim leading hyphens
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
