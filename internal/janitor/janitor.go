// Package janitor recovers claims leaked by crashed or wedged senders.
//
// A claim is supposed to be short-lived: it is taken right before a send
// and either marked sent or released within seconds. A pending claim that
// has been sitting for longer than the TTL belongs to a process that died
// mid-send, and holding it forever would block that course for everyone.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"coursecast/internal/claims"
	logx "coursecast/pkg/logx"
)

const (
	defaultSchedule = "*/10 * * * *"
	defaultClaimTTL = 15 * time.Minute

	// sweepTimeout bounds a single sweep so a wedged store cannot pile
	// up overlapping runs.
	sweepTimeout = 30 * time.Second
)

type Config struct {
	Schedule string
	ClaimTTL time.Duration
}

type Janitor struct {
	sweeper claims.Sweeper
	cfg     Config
	log     logx.Logger
	cron    *cron.Cron
}

func New(sweeper claims.Sweeper, cfg Config, log logx.Logger) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	return &Janitor{sweeper: sweeper, cfg: cfg, log: log}
}

// Start schedules the sweep and runs one immediately so a restart after a
// crash recovers leaked claims without waiting for the first tick.
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.cfg.Schedule, func() { j.sweep(ctx) }); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	go j.sweep(ctx)
	return nil
}

func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	released, err := j.sweeper.ReleaseStale(sctx, j.cfg.ClaimTTL)
	if err != nil {
		j.log.Warn("stale claim sweep failed", logx.Err(err))
		return
	}
	if released > 0 {
		j.log.Info("released stale claims",
			logx.Int("released", released),
			logx.Duration("ttl", j.cfg.ClaimTTL),
		)
	}
}
