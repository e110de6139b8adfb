package httpx

import (
	"net/http"
	"strings"

	"coursecast/internal/token"
)

// ObservingTransport is a RoundTripper that feeds the token observer
// from live traffic: the anti-forgery header on outbound requests and
// the rotating session cookie on inbound responses. It never alters
// the request or response.
type ObservingTransport struct {
	Next       http.RoundTripper
	Observer   *token.Observer
	Host       string // only observe this host; "" observes all
	PathPrefix string // only observe paths under this prefix; "" observes all
	HeaderName string
	CookieName string
}

func (t *ObservingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	watch := t.matches(req)
	if watch && t.HeaderName != "" {
		if v := req.Header.Get(t.HeaderName); v != "" {
			t.Observer.RecordHeader(v)
		}
	}

	resp, err := next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if watch && t.CookieName != "" {
		for _, c := range resp.Cookies() {
			if c.Name == t.CookieName && c.Value != "" {
				t.Observer.RecordCookie(c.Value)
			}
		}
	}
	return resp, nil
}

func (t *ObservingTransport) matches(req *http.Request) bool {
	if t.Observer == nil {
		return false
	}
	if t.Host != "" && !strings.EqualFold(req.URL.Host, t.Host) {
		return false
	}
	if t.PathPrefix != "" && !strings.HasPrefix(req.URL.Path, t.PathPrefix) {
		return false
	}
	return true
}
