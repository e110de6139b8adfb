// Package canvas drives the LMS's REST surface: course and section
// listings, recipient search, roster enumeration and conversation
// sends. The REST contract (paths, field names, pagination format) is
// the platform's own and is treated as fixed.
package canvas

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"coursecast/internal/httpx"
	"coursecast/internal/token"
	"coursecast/pkg/logx"
)

const (
	// apiPrefix is where every REST call lives.
	apiPrefix = "/api/v1"

	// CSRFHeader carries the anti-forgery token on mutating calls.
	CSRFHeader = "X-CSRF-Token"

	// CSRFCookie is the rotating session cookie the platform sets.
	CSRFCookie = "_csrf_token"

	// defaultBatchCap is the per-request recipient ceiling. The
	// platform rejects larger batches, so exceeding it is a local
	// programming error, never a retryable fault.
	defaultBatchCap = 90

	perPage = 100
)

var (
	// ErrNoToken means no anti-forgery token has been observed yet;
	// mutating calls fail fast without touching the network.
	ErrNoToken = errors.New("canvas: no anti-forgery token observed")

	// ErrBatchTooLarge flags a recipient list over the per-request cap.
	ErrBatchTooLarge = errors.New("canvas: recipient batch exceeds cap")
)

// Config for the gateway client.
type Config struct {
	BaseURL  string // e.g. "https://school.instructure.com"
	BatchCap int    // 0 means defaultBatchCap
	CacheTTL time.Duration
}

// Client is the LMS gateway. Read listings go through a short-TTL
// cache; everything rides the resilient HTTP layer.
type Client struct {
	base     *url.URL
	http     *httpx.Client
	tokens   *token.Observer
	cache    *gocache.Cache
	batchCap int
	log      logx.Logger
}

// New builds a gateway client.
func New(cfg Config, hc *httpx.Client, tokens *token.Observer, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("canvas: base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("canvas: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("canvas: base URL %q must be absolute", raw)
	}
	if hc == nil {
		return nil, errors.New("canvas: http client is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	bcap := cfg.BatchCap
	if bcap <= 0 {
		bcap = defaultBatchCap
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &Client{
		base:     base,
		http:     hc,
		tokens:   tokens,
		cache:    gocache.New(ttl, 5*ttl),
		batchCap: bcap,
		log:      log,
	}, nil
}

// Domain is the platform host this client targets (the dedupe domain).
func (c *Client) Domain() string { return c.base.Host }

// BatchCap is the effective per-request recipient ceiling.
func (c *Client) BatchCap() int { return c.batchCap }

// apiURL builds an absolute API URL from a path and query values.
func (c *Client) apiURL(path string, q url.Values) string {
	u := *c.base
	u.Path = apiPrefix + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// currentToken returns the freshest observed anti-forgery token.
func (c *Client) currentToken() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Latest().Chosen
}
