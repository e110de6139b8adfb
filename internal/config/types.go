package config

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	Platform PlatformConfig `json:"platform"`
	HTTP     HTTPConfig     `json:"http,omitempty"`
	Batching BatchingConfig `json:"batching,omitempty"`
	Claims   ClaimsConfig   `json:"claims"`
	API      APIConfig      `json:"api,omitempty"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

// PlatformConfig identifies the LMS instance messages are sent through.
type PlatformConfig struct {
	// BaseURL is the LMS root, e.g. "https://canvas.example.edu".
	BaseURL string `json:"base_url"`

	// Sender is recorded on every claim so sent rows are attributable.
	Sender string `json:"sender"`

	// DefaultTerm filters course listings when a command gives no term
	// (e.g. "Spring 2026"). Empty means no filtering.
	DefaultTerm string `json:"default_term,omitempty"`

	// CacheTTL is a Go duration string for the course/section cache.
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// HTTPConfig tunes the outbound request policy.
//
// All durations are Go duration strings (e.g. "500ms", "15s").
type HTTPConfig struct {
	Timeout        string  `json:"timeout,omitempty"`
	MaxRetries     int     `json:"max_retries,omitempty"`
	BaseDelay      string  `json:"base_delay,omitempty"`
	BackoffFactor  float64 `json:"backoff_factor,omitempty"`
	JitterFraction float64 `json:"jitter_fraction,omitempty"`

	// RatePerSec caps outbound requests. 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// BatchingConfig controls how a course send is split into conversation batches.
type BatchingConfig struct {
	// BatchSize is clamped to the platform's hard cap at runtime.
	BatchSize int `json:"batch_size,omitempty"`

	InterBatchDelay   string `json:"inter_batch_delay,omitempty"`
	MarkDelay         string `json:"mark_delay,omitempty"`
	HeartbeatInterval string `json:"heartbeat_interval,omitempty"`
}

// ClaimsConfig selects the claim store backend.
//
// Example:
//
//	"claims": { "driver": "sqlite", "path": "./coursecast.db" }
//	"claims": { "driver": "remote", "url": "https://claims.example.com", "api_key": "..." }
type ClaimsConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// APIConfig controls the local command server.
//
// Security note:
//   - The server refuses to bind non-loopback addresses.
//   - Token, when set, is required as a bearer token on every request.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:4810"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}

// JanitorConfig controls the stale-claim sweeper.
type JanitorConfig struct {
	Enabled bool `json:"enabled"`

	// Schedule is a cron expression. Default: every 10 minutes.
	Schedule string `json:"schedule,omitempty"`

	// ClaimTTL is how long a pending claim may sit before it is released.
	// Go duration string. Default: "15m".
	ClaimTTL string `json:"claim_ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks the invariants that cannot wait until first use.
func (c *Config) Validate() error {
	base := strings.TrimSpace(c.Platform.BaseURL)
	if base == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("platform.base_url: invalid URL %q", base)
	}

	switch strings.TrimSpace(c.Claims.Driver) {
	case "sqlite":
		if strings.TrimSpace(c.Claims.Path) == "" {
			return fmt.Errorf("claims.path is required for the sqlite driver")
		}
	case "remote":
		if strings.TrimSpace(c.Claims.URL) == "" {
			return fmt.Errorf("claims.url is required for the remote driver")
		}
	case "":
		return fmt.Errorf("claims.driver is required (sqlite or remote)")
	default:
		return fmt.Errorf("claims.driver: unknown driver %q", c.Claims.Driver)
	}

	for _, d := range []struct{ path, raw string }{
		{"platform.cache_ttl", c.Platform.CacheTTL},
		{"http.timeout", c.HTTP.Timeout},
		{"http.base_delay", c.HTTP.BaseDelay},
		{"batching.inter_batch_delay", c.Batching.InterBatchDelay},
		{"batching.mark_delay", c.Batching.MarkDelay},
		{"batching.heartbeat_interval", c.Batching.HeartbeatInterval},
		{"janitor.claim_ttl", c.Janitor.ClaimTTL},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}
