package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// nextPageURL extracts the rel="next" target from a Link header, the
// platform's pagination cursor. Empty means the listing is exhausted.
func nextPageURL(h http.Header) string {
	link := h.Get("Link")
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		fields := strings.Split(part, ";")
		if len(fields) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(fields[0]), "<>")
		for _, f := range fields[1:] {
			if strings.TrimSpace(f) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

// getPages follows a paginated listing from first until the Link
// header stops offering a next page, decoding each page into a fresh
// []T and appending.
func getPages[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var all []T
	pageURL := first
	for pageURL != "" {
		resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		})
		if err != nil {
			return nil, err
		}
		var page []T
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		all = append(all, page...)
		pageURL = nextPageURL(resp.Header)
	}
	return all, nil
}

// getJSON fetches a single JSON document.
func getJSON[T any](ctx context.Context, c *Client, u string) (T, error) {
	var out T
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
