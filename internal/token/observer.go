// Package token caches the platform's rotating anti-forgery token.
//
// The token is never minted by us: it is observed from the user's own
// authenticated traffic, either as a request header the platform UI
// sends on mutating calls, or as a rotating session cookie set on
// responses. Both sources are cached independently, latest-wins, and
// the freshest header value is preferred when both exist.
package token

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"coursecast/pkg/logx"
)

// Source identifies where a token value was observed.
type Source string

const (
	SourceHeader Source = "header"
	SourceCookie Source = "cookie"
)

// Token is one observed anti-forgery token value.
type Token struct {
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Source     Source    `json:"source"`
}

// Snapshot is the observer's current view. Chosen is empty when
// neither source has been observed.
type Snapshot struct {
	Chosen string `json:"chosen"`
	Header *Token `json:"header,omitempty"`
	Cookie *Token `json:"cookie,omitempty"`
}

// Observer holds the two token slots and persists them across restarts.
//
// Malformed observations (blank values) are ignored silently; a cookie
// value that fails URL-decoding is stored raw.
type Observer struct {
	mu     sync.Mutex
	path   string // state file; "" disables persistence
	header *Token
	cookie *Token
	log    logx.Logger
}

type state struct {
	Header *Token `json:"header,omitempty"`
	Cookie *Token `json:"cookie,omitempty"`
}

// NewObserver creates an observer, reloading any previously persisted
// state from path. An empty path keeps the cache memory-only.
func NewObserver(path string, log logx.Logger) *Observer {
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Observer{path: strings.TrimSpace(path), log: log}
	o.load()
	return o
}

// RecordHeader stores a header-source token, overwriting any earlier
// header observation.
func (o *Observer) RecordHeader(value string) {
	v := strings.TrimSpace(value)
	if v == "" {
		return
	}
	o.record(&Token{Value: v, ObservedAt: time.Now(), Source: SourceHeader})
}

// RecordCookie stores a cookie-source token. Cookie values arrive
// URL-encoded; decoding failures fall back to the raw value rather
// than dropping the observation.
func (o *Observer) RecordCookie(value string) {
	v := strings.TrimSpace(value)
	if v == "" {
		return
	}
	if dec, err := url.QueryUnescape(v); err == nil {
		v = dec
	}
	o.record(&Token{Value: v, ObservedAt: time.Now(), Source: SourceCookie})
}

func (o *Observer) record(t *Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch t.Source {
	case SourceHeader:
		o.header = t
	case SourceCookie:
		o.cookie = t
	default:
		return
	}
	o.persistLocked()
	o.log.Debug("token observed", logx.String("source", string(t.Source)))
}

// Latest returns both slots plus the chosen value. The header source
// wins because it reflects what the live platform UI actually sent.
func (o *Observer) Latest() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{Header: o.header, Cookie: o.cookie}
	switch {
	case o.header != nil:
		snap.Chosen = o.header.Value
	case o.cookie != nil:
		snap.Chosen = o.cookie.Value
	}
	return snap
}

// Clear drops both slots and removes the persisted state file.
func (o *Observer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.header = nil
	o.cookie = nil
	if o.path != "" {
		_ = os.Remove(o.path)
	}
}

func (o *Observer) load() {
	if o.path == "" {
		return
	}
	b, err := os.ReadFile(o.path)
	if err != nil {
		return
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		o.log.Warn("token state file unreadable, ignoring", logx.Err(err))
		return
	}
	o.mu.Lock()
	o.header = st.Header
	o.cookie = st.Cookie
	o.mu.Unlock()
}

// persistLocked writes the state file via temp-file + rename so a
// crash mid-write never leaves a truncated file behind.
func (o *Observer) persistLocked() {
	if o.path == "" {
		return
	}
	b, err := json.Marshal(state{Header: o.header, Cookie: o.cookie})
	if err != nil {
		return
	}
	dir := filepath.Dir(o.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn("token state dir", logx.Err(err))
		return
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		o.log.Warn("token state write", logx.Err(err))
		return
	}
	if err := os.Rename(tmp, o.path); err != nil {
		o.log.Warn("token state rename", logx.Err(err))
	}
}
