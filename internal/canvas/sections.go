package canvas

import (
	"context"
	"fmt"
	"net/url"
)

// ListSections returns a course's sections. An empty result is a valid
// outcome: callers treat a sectionless course as one course-wide unit.
func (c *Client) ListSections(ctx context.Context, courseID int64) ([]Section, error) {
	cacheKey := fmt.Sprintf("sections:%d", courseID)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]Section), nil
	}

	q := url.Values{}
	q.Set("per_page", fmt.Sprint(perPage))

	sections, err := getPages[Section](ctx, c, c.apiURL(fmt.Sprintf("/courses/%d/sections", courseID), q))
	if err != nil {
		return nil, fmt.Errorf("canvas: list sections for course %d: %w", courseID, err)
	}

	c.cache.Set(cacheKey, sections, 0)
	return sections, nil
}
