package token

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/pkg/logx"
)

func TestLatestEmpty(t *testing.T) {
	o := NewObserver("", logx.Nop())
	snap := o.Latest()
	assert.Empty(t, snap.Chosen)
	assert.Nil(t, snap.Header)
	assert.Nil(t, snap.Cookie)
}

func TestCookieOnly(t *testing.T) {
	o := NewObserver("", logx.Nop())
	o.RecordCookie("abc%2Fdef%3D%3D")
	snap := o.Latest()
	require.NotNil(t, snap.Cookie)
	assert.Equal(t, "abc/def==", snap.Chosen, "cookie values are URL-decoded")
}

func TestCookieDecodeFallback(t *testing.T) {
	o := NewObserver("", logx.Nop())
	o.RecordCookie("bad%zzescape")
	assert.Equal(t, "bad%zzescape", o.Latest().Chosen)
}

func TestHeaderWinsOverCookie(t *testing.T) {
	o := NewObserver("", logx.Nop())
	o.RecordCookie("cookie-token")
	o.RecordHeader("header-token")
	snap := o.Latest()
	assert.Equal(t, "header-token", snap.Chosen)
	require.NotNil(t, snap.Cookie)
	assert.Equal(t, "cookie-token", snap.Cookie.Value)

	// Even a cookie observed later does not displace the header choice.
	o.RecordCookie("fresher-cookie")
	assert.Equal(t, "header-token", o.Latest().Chosen)
}

func TestLatestWinsPerSource(t *testing.T) {
	o := NewObserver("", logx.Nop())
	o.RecordHeader("first")
	o.RecordHeader("second")
	assert.Equal(t, "second", o.Latest().Chosen)
}

func TestBlankObservationsIgnored(t *testing.T) {
	o := NewObserver("", logx.Nop())
	o.RecordHeader("   ")
	o.RecordCookie("")
	assert.Empty(t, o.Latest().Chosen)
}

func TestPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "token.json")

	o := NewObserver(path, logx.Nop())
	o.RecordHeader("persisted-token")

	o2 := NewObserver(path, logx.Nop())
	snap := o2.Latest()
	assert.Equal(t, "persisted-token", snap.Chosen)
	require.NotNil(t, snap.Header)
	assert.Equal(t, SourceHeader, snap.Header.Source)
}

func TestClearRemovesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	o := NewObserver(path, logx.Nop())
	o.RecordHeader("x")
	o.RecordCookie("y")
	o.Clear()
	assert.Empty(t, o.Latest().Chosen)

	o2 := NewObserver(path, logx.Nop())
	assert.Empty(t, o2.Latest().Chosen, "cleared state must not survive restart")
}
