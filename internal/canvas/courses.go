package canvas

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"coursecast/internal/term"
	"coursecast/pkg/logx"
)

// ListCourses returns the caller's active courses, filtered to the
// requested term. The listing itself is not term-scoped on the server,
// so filtering happens client-side:
//
//   - an unparseable termFilter disables filtering (everything passes);
//   - a course whose own term label parses is matched on (season, year);
//   - a course without usable term metadata falls back to a month-range
//     heuristic over its start/end dates.
func (c *Client) ListCourses(ctx context.Context, termFilter string) ([]Course, error) {
	cacheKey := "courses:" + termFilter
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]Course), nil
	}

	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Set("per_page", fmt.Sprint(perPage))
	q.Add("include[]", "term")

	courses, err := getPages[Course](ctx, c, c.apiURL("/courses", q))
	if err != nil {
		return nil, fmt.Errorf("canvas: list courses: %w", err)
	}

	want, ok := term.Parse(termFilter)
	if !ok {
		// No usable filter: pass everything.
		c.cache.Set(cacheKey, courses, 0)
		return courses, nil
	}

	filtered := make([]Course, 0, len(courses))
	for _, course := range courses {
		if matchesTerm(course, want) {
			filtered = append(filtered, course)
		}
	}
	c.log.Debug("courses filtered by term",
		logx.String("term", want.String()),
		logx.Int("total", len(courses)),
		logx.Int("matched", len(filtered)))

	c.cache.Set(cacheKey, filtered, 0)
	return filtered, nil
}

func matchesTerm(c Course, want term.Term) bool {
	if t, ok := term.Parse(c.TermLabel()); ok {
		return t == want
	}
	// No parseable term metadata; fall back to the date window.
	if at, ok := courseDate(c); ok {
		return at.Year() == want.Year && term.InSeason(want.Season, at)
	}
	return false
}

// courseDate picks the most representative date the course carries:
// term start, term end, course start, course end, first available.
func courseDate(c Course) (time.Time, bool) {
	candidates := []*time.Time{}
	if c.Term != nil {
		candidates = append(candidates, c.Term.StartAt, c.Term.EndAt)
	}
	candidates = append(candidates, c.StartAt, c.EndAt)
	for _, at := range candidates {
		if at != nil && !at.IsZero() {
			return *at, true
		}
	}
	return time.Time{}, false
}
