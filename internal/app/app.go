// Package app assembles the daemon: config, logging, the claim store,
// the LMS gateway, the send orchestrator, the local API and the stale
// claim janitor, with one lifecycle for all of them.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"coursecast/internal/api"
	"coursecast/internal/broadcast"
	"coursecast/internal/canvas"
	"coursecast/internal/claims"
	"coursecast/internal/config"
	"coursecast/internal/eventbus"
	"coursecast/internal/httpx"
	"coursecast/internal/janitor"
	"coursecast/internal/token"
	logx "coursecast/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	store  claims.Store
	tokens *token.Observer

	gateway *canvas.Client
	orch    *broadcast.Orchestrator
	api     *api.Server
	jan     *janitor.Janitor

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		bus:     eventbus.New(),
		done:    make(chan struct{}),
	}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build wires every component from a validated config.
func (a *App) build(cfg *config.Config) error {
	a.tokens = token.NewObserver(tokenStatePath(cfg), a.log.With(logx.String("comp", "token")))

	hc, err := a.buildHTTP(cfg)
	if err != nil {
		return err
	}

	store, err := a.openStore(cfg, hc)
	if err != nil {
		return err
	}
	a.store = store

	cacheTTL, err := config.ParseDurationOrDefault("platform.cache_ttl", cfg.Platform.CacheTTL, time.Minute)
	if err != nil {
		return err
	}
	gw, err := canvas.New(canvas.Config{
		BaseURL:  cfg.Platform.BaseURL,
		CacheTTL: cacheTTL,
	}, hc, a.tokens, a.log.With(logx.String("comp", "canvas")))
	if err != nil {
		return err
	}
	a.gateway = gw

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return err
	}
	a.orch = broadcast.New(bcCfg, gw, a.store, a.tokens, a.bus, a.log.With(logx.String("comp", "broadcast")))

	if cfg.API.Enabled {
		a.api = api.New(api.Config{
			Addr:        cfg.API.Addr,
			Token:       cfg.API.Token,
			DefaultTerm: cfg.Platform.DefaultTerm,
		}, gw, a.orch, a.store, a.tokens, a.bus, a.log.With(logx.String("comp", "api")))
	}

	if cfg.Janitor.Enabled {
		sweeper, ok := a.store.(claims.Sweeper)
		if !ok {
			// The remote store sweeps server-side.
			a.log.Info("janitor disabled: store sweeps its own stale claims")
		} else {
			ttl, err := config.ParseDurationOrDefault("janitor.claim_ttl", cfg.Janitor.ClaimTTL, 15*time.Minute)
			if err != nil {
				return err
			}
			a.jan = janitor.New(sweeper, janitor.Config{
				Schedule: cfg.Janitor.Schedule,
				ClaimTTL: ttl,
			}, a.log.With(logx.String("comp", "janitor")))
		}
	}

	return nil
}

// buildHTTP maps the http config section onto one shared resilient
// client whose transport feeds the token observer from live traffic.
func (a *App) buildHTTP(cfg *config.Config) (*httpx.Client, error) {
	policy := httpx.DefaultPolicy()
	if d, err := config.ParseDurationField("http.timeout", cfg.HTTP.Timeout); err != nil {
		return nil, err
	} else if d > 0 {
		policy.Timeout = d
	}
	if cfg.HTTP.MaxRetries > 0 {
		policy.MaxRetries = cfg.HTTP.MaxRetries
	}
	if d, err := config.ParseDurationField("http.base_delay", cfg.HTTP.BaseDelay); err != nil {
		return nil, err
	} else if d > 0 {
		policy.BaseDelay = d
	}
	if cfg.HTTP.BackoffFactor > 1 {
		policy.BackoffFactor = cfg.HTTP.BackoffFactor
	}
	if cfg.HTTP.JitterFraction > 0 {
		policy.JitterFraction = cfg.HTTP.JitterFraction
	}

	var limiter *rate.Limiter
	if cfg.HTTP.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RatePerSec), cfg.HTTP.RatePerSec)
	}

	base, err := url.Parse(cfg.Platform.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("platform.base_url: %w", err)
	}

	transport := &httpx.ObservingTransport{
		Observer:   a.tokens,
		Host:       base.Host,
		HeaderName: canvas.CSRFHeader,
		CookieName: canvas.CSRFCookie,
	}
	hc := httpx.New(&http.Client{Transport: transport}, policy, limiter,
		a.log.With(logx.String("comp", "httpx")))
	return hc, nil
}

func (a *App) openStore(cfg *config.Config, hc *httpx.Client) (claims.Store, error) {
	log := a.log.With(logx.String("comp", "claims"))
	switch cfg.Claims.Driver {
	case "sqlite":
		return claims.OpenSQLite(claims.SQLiteConfig{Path: cfg.Claims.Path}, log)
	case "remote":
		return claims.OpenRemote(cfg.Claims.URL, cfg.Claims.APIKey, hc)
	default:
		return nil, fmt.Errorf("claims.driver: unknown driver %q", cfg.Claims.Driver)
	}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	out := broadcast.Config{
		BatchSize: cfg.Batching.BatchSize,
		Sender:    cfg.Platform.Sender,
	}
	var err error
	if out.InterBatchDelay, err = config.ParseDurationOrDefault(
		"batching.inter_batch_delay", cfg.Batching.InterBatchDelay, time.Second); err != nil {
		return out, err
	}
	if out.MarkDelay, err = config.ParseDurationOrDefault(
		"batching.mark_delay", cfg.Batching.MarkDelay, 200*time.Millisecond); err != nil {
		return out, err
	}
	if out.HeartbeatInterval, err = config.ParseDurationOrDefault(
		"batching.heartbeat_interval", cfg.Batching.HeartbeatInterval, 30*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// tokenStatePath derives the observer state file from the sqlite path
// so both live next to each other; the remote driver keeps tokens in
// memory only.
func tokenStatePath(cfg *config.Config) string {
	if cfg.Claims.Driver != "sqlite" || cfg.Claims.Path == "" {
		return ""
	}
	return strings.TrimSuffix(cfg.Claims.Path, ".db") + ".tokens.json"
}

// Gateway exposes the LMS client for CLI commands.
func (a *App) Gateway() *canvas.Client { return a.gateway }

// Orchestrator exposes the send pipeline for CLI commands.
func (a *App) Orchestrator() *broadcast.Orchestrator { return a.orch }

// Tokens exposes the token observer for CLI commands.
func (a *App) Tokens() *token.Observer { return a.tokens }

// Store exposes the claim store for CLI commands.
func (a *App) Store() claims.Store { return a.store }

// Logger returns the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start brings the daemon surfaces up and blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer close(a.done)

	if a.api != nil {
		if err := a.api.Start(); err != nil {
			return err
		}
	}
	if a.jan != nil {
		if err := a.jan.Start(ctx); err != nil {
			return err
		}
	}

	go func() { _ = a.cfgm.Watch(ctx) }()
	go a.watchConfig(ctx)
	go a.watchdog(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("coursecast up",
		logx.String("platform", a.gateway.Domain()),
		logx.Bool("api", a.api != nil),
		logx.Bool("janitor", a.jan != nil),
	)

	<-ctx.Done()
	return nil
}

// Stop tears everything down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	var firstErr error
	if a.jan != nil {
		a.jan.Stop()
	}
	if a.api != nil {
		if err := a.api.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// watchConfig applies hot-reloadable settings. Only logging changes
// take effect live; everything else needs a restart and says so.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config applied (logging); other sections take effect on restart")
		}
	}
}

// watchdog keeps systemd's watchdog fed when one is configured.
func (a *App) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
