// Package httpx wraps net/http with per-call timeout, bounded retry
// with jittered exponential backoff, and rate limiting. Every remote
// call the rest of the system makes goes through Client.Do.
package httpx

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"coursecast/pkg/logx"
)

// Policy bounds one logical call: per-attempt timeout, retry budget and
// backoff shape.
type Policy struct {
	Timeout        time.Duration
	MaxRetries     int // total attempts = MaxRetries + 1
	BaseDelay      time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// DefaultPolicy matches what the platform tolerates comfortably.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 15 * time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	if p.JitterFraction < 0 || p.JitterFraction >= 1 {
		p.JitterFraction = 0.2
	}
	return p
}

// Response is a fully drained HTTP response. Draining up front keeps
// retry handling and connection reuse simple; bodies on this API are
// small (JSON pages).
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BuildFunc creates the request for one attempt. It is invoked fresh
// per attempt so request bodies are never replayed from a consumed
// reader.
type BuildFunc func(ctx context.Context) (*http.Request, error)

const maxBodyBytes = 4 << 20

// Client is a retrying HTTP client. A single shared rate limiter gates
// all attempts, retries included.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
	policy  Policy
	log     logx.Logger
}

// New builds a Client. A nil http.Client falls back to a plain one
// (per-attempt timeouts come from the policy, not http.Client.Timeout).
// A nil limiter disables rate limiting.
func New(hc *http.Client, policy Policy, limiter *rate.Limiter, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{hc: hc, limiter: limiter, policy: policy.withDefaults(), log: log}
}

// Policy returns the client's default policy.
func (c *Client) Policy() Policy { return c.policy }

// Do runs one logical call under the client's policy.
func (c *Client) Do(ctx context.Context, build BuildFunc) (*Response, error) {
	return c.DoWithPolicy(ctx, build, c.policy)
}

// DoWithPolicy runs one logical call under an explicit policy.
//
// Retryable failures (transport errors, per-attempt timeout, 429/5xx)
// back off and retry until the budget is spent; any other non-2xx
// status surfaces immediately as a *StatusError.
func (c *Client) DoWithPolicy(ctx context.Context, build BuildFunc, policy Policy) (*Response, error) {
	policy = policy.withDefaults()

	var last error
	attempts := policy.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, build, policy.Timeout)
		if err == nil {
			return resp, nil
		}
		last = err

		if canceled(ctx) {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		delay := backoffDelay(policy, attempt)
		c.log.Debug("request retry scheduled",
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &RetriesExhaustedError{Attempts: attempts, Last: last}
}

func (c *Client) attempt(ctx context.Context, build BuildFunc, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(actx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// backoffDelay computes base * factor^(attempt-1), scattered by
// ±jitter so concurrent clients don't thunder in lockstep.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	jitter := 1 + p.JitterFraction*(2*rand.Float64()-1)
	return time.Duration(d * jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
