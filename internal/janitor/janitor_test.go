package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "coursecast/pkg/logx"
)

type fakeSweeper struct {
	mu       sync.Mutex
	calls    int
	lastTTL  time.Duration
	released int
}

func (f *fakeSweeper) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastTTL = olderThan
	return f.released, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartSweepsImmediately(t *testing.T) {
	sw := &fakeSweeper{released: 2}
	j := New(sw, Config{ClaimTTL: time.Minute}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, j.Start(ctx))
	defer j.Stop()

	require.Eventually(t, func() bool { return sw.count() >= 1 }, time.Second, 10*time.Millisecond)

	sw.mu.Lock()
	ttl := sw.lastTTL
	sw.mu.Unlock()
	require.Equal(t, time.Minute, ttl)
}

func TestDefaults(t *testing.T) {
	j := New(&fakeSweeper{}, Config{}, logx.Nop())
	require.Equal(t, defaultSchedule, j.cfg.Schedule)
	require.Equal(t, defaultClaimTTL, j.cfg.ClaimTTL)
}

func TestBadScheduleRejected(t *testing.T) {
	j := New(&fakeSweeper{}, Config{Schedule: "every now and then"}, logx.Nop())
	require.Error(t, j.Start(context.Background()))
}

func TestCanceledContextSkipsSweep(t *testing.T) {
	sw := &fakeSweeper{}
	j := New(sw, Config{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.sweep(ctx)
	require.Zero(t, sw.count())
}
