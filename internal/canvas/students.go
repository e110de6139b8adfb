package canvas

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// placeholder enrollments the platform injects for instructors
// previewing their course; never real recipients.
const testStudentName = "test student"

// Self returns the calling user's profile (cached).
func (c *Client) Self(ctx context.Context) (Profile, error) {
	if v, ok := c.cache.Get("self"); ok {
		return v.(Profile), nil
	}
	p, err := getJSON[Profile](ctx, c, c.apiURL("/users/self/profile", nil))
	if err != nil {
		return Profile{}, fmt.Errorf("canvas: self profile: %w", err)
	}
	c.cache.Set("self", p, 0)
	return p, nil
}

// Ping is the liveness heartbeat: a cheap authenticated round trip
// that bypasses the cache so it actually touches the network.
func (c *Client) Ping(ctx context.Context) error {
	_, err := getJSON[Profile](ctx, c, c.apiURL("/users/self/profile", nil))
	if err != nil {
		return fmt.Errorf("canvas: ping: %w", err)
	}
	return nil
}

// ListActiveStudentIDs enumerates the full active-student roster of a
// course, excluding the caller and placeholder test students, and
// deduplicated (cross-listed students enroll in several sections).
func (c *Client) ListActiveStudentIDs(ctx context.Context, courseID int64) ([]int64, error) {
	self, err := c.Self(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Add("enrollment_type[]", "student")
	q.Add("enrollment_state[]", "active")
	q.Set("per_page", fmt.Sprint(perPage))

	users, err := getPages[User](ctx, c, c.apiURL(fmt.Sprintf("/courses/%d/users", courseID), q))
	if err != nil {
		return nil, fmt.Errorf("canvas: list students for course %d: %w", courseID, err)
	}

	seen := make(map[int64]struct{}, len(users))
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		if u.ID == 0 || u.ID == self.ID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(u.Name), testStudentName) {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		ids = append(ids, u.ID)
	}
	return ids, nil
}
