package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
platform:
  base_url: https://canvas.example.edu
  sender: advisor@example.edu
  default_term: Spring 2026
http:
  timeout: 10s
  max_retries: 4
claims:
  driver: sqlite
  path: ./coursecast.db
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
`)

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "https://canvas.example.edu", cfg.Platform.BaseURL)
	require.Equal(t, "Spring 2026", cfg.Platform.DefaultTerm)
	require.Equal(t, 4, cfg.HTTP.MaxRetries)
	require.Equal(t, "sqlite", cfg.Claims.Driver)
	require.Same(t, cfg, m.Get())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "platform": {"base_url": "https://canvas.example.edu", "sender": "advisor"},
  "claims": {"driver": "remote", "url": "https://claims.example.com", "api_key": "k"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`)

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)
	require.Equal(t, "remote", cfg.Claims.Driver)
	require.Equal(t, "https://claims.example.com", cfg.Claims.URL)
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "platform": {"base_url": "https://canvas.example.edu", "sender": "x"},
  "claims": {"driver": "sqlite", "path": "db"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "batchin": {"batch_size": 10}
}`)

	_, err := NewManager(path).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "batchin")
}

func TestTrailingDataRejected(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "platform": {"base_url": "https://canvas.example.edu", "sender": "x"},
  "claims": {"driver": "sqlite", "path": "db"},
  "logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}}
}{}`)

	_, err := NewManager(path).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Platform: PlatformConfig{BaseURL: "https://canvas.example.edu", Sender: "x"},
			Claims:   ClaimsConfig{Driver: "sqlite", Path: "db"},
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.Platform.BaseURL = "not a url"
	require.Error(t, c.Validate())

	c = base()
	c.Claims = ClaimsConfig{Driver: "sqlite"}
	require.Error(t, c.Validate())

	c = base()
	c.Claims = ClaimsConfig{Driver: "remote"}
	require.Error(t, c.Validate())

	c = base()
	c.Claims.Driver = "postgres"
	require.Error(t, c.Validate())

	c = base()
	c.Janitor.ClaimTTL = "sometimes"
	require.Error(t, c.Validate())

	c = base()
	c.HTTP.Timeout = "-3s"
	require.Error(t, c.Validate())
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 7*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", 7*time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "nope", 7*time.Second)
	require.Error(t, err)
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second) // buffer full; oldest dropped, newest delivered

	got := <-ch
	require.Same(t, second, got)

	m.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open)
}
