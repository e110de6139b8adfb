package canvas

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const maxCandidates = 10

// ResolveRecipient searches the platform's recipient index scoped to a
// course. A single hit, or a single case-insensitive exact full-name
// hit among several, becomes the chosen recipient; anything else is
// ambiguous and returns up to ten candidates for a human to pick from.
func (c *Client) ResolveRecipient(ctx context.Context, courseID int64, nameQuery string) (Resolution, error) {
	query := strings.TrimSpace(nameQuery)
	if query == "" {
		return Resolution{}, fmt.Errorf("canvas: recipient query is empty")
	}

	q := url.Values{}
	q.Set("search", query)
	q.Set("context", fmt.Sprintf("course_%d", courseID))
	q.Add("types[]", "user")
	q.Set("per_page", "20")

	matches, err := getJSON[[]User](ctx, c, c.apiURL("/search/recipients", q))
	if err != nil {
		return Resolution{}, fmt.Errorf("canvas: search recipients %q: %w", query, err)
	}

	switch len(matches) {
	case 0:
		return Resolution{}, nil
	case 1:
		return Resolution{Chosen: &matches[0], Candidates: matches}, nil
	}

	// Several hits: a unique exact full-name match still counts.
	var exact []int
	for i, m := range matches {
		if strings.EqualFold(strings.TrimSpace(m.DisplayName()), query) {
			exact = append(exact, i)
		}
	}
	candidates := matches
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	if len(exact) == 1 {
		return Resolution{Chosen: &matches[exact[0]], Candidates: candidates}, nil
	}
	return Resolution{Candidates: candidates}, nil
}
