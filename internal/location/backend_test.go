package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/heidestein/routetrack/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsPatch_Apply(t *testing.T) {
	base := DefaultProfiles().OptionsFor(core.ModeTracking)
	title := "x"
	paused := true

	got := OptionsPatch{Title: &title, Paused: &paused}.Apply(base)

	assert.Equal(t, "x", got.Title)
	assert.True(t, got.Paused)
	assert.Equal(t, base.Interval, got.Interval)
	assert.Equal(t, base.Distance, got.Distance)
}

func TestProfiles(t *testing.T) {
	p := DefaultProfiles()

	tracking := p.OptionsFor(core.ModeTracking)
	assert.Equal(t, 5*time.Second, tracking.Interval)
	assert.Equal(t, 6.0, tracking.Distance)
	assert.Equal(t, TitleTracking, tracking.Title)
	assert.False(t, tracking.Paused)

	paused := p.OptionsFor(core.ModePaused)
	assert.Equal(t, 60*time.Second, paused.Interval)
	assert.Equal(t, 50.0, paused.Distance)
	assert.Equal(t, TitlePaused, paused.Title)
	assert.True(t, paused.Paused)
}

func TestForegroundBackend(t *testing.T) {
	feed := NewFeed()
	b := NewForegroundBackend(feed)
	ctx := context.Background()

	var got []core.Fix
	cancel := b.Subscribe(func(f core.Fix) { got = append(got, f) })

	assert.Zero(t, feed.Emit(goodFix(1)), "nothing watches before start")

	require.NoError(t, b.Start(ctx, DefaultProfiles().OptionsFor(core.ModeTracking)))
	require.NoError(t, b.Start(ctx, DefaultProfiles().OptionsFor(core.ModePaused)))
	assert.Equal(t, 1, feed.Watching(), "restart replaces the watch")
	opts, ok := feed.LastOptions()
	require.True(t, ok)
	assert.True(t, opts.Paused)

	feed.Emit(goodFix(2))
	assert.Len(t, got, 1)

	assert.ErrorIs(t, b.UpdateOptions(ctx, OptionsPatch{}), ErrReconfigureUnsupported)

	cancel()
	feed.Emit(goodFix(3))
	assert.Len(t, got, 1, "cancelled subscriber receives nothing")

	require.NoError(t, b.Stop(ctx))
	assert.False(t, b.Running())
	assert.Zero(t, feed.Watching())
	require.NoError(t, b.Stop(ctx), "stopping twice is fine")
}

func TestServiceBackend_PumpsWhileStarted(t *testing.T) {
	svc := NewSimulatedService(4)
	b := NewServiceBackend(svc)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []core.Fix
	)
	b.Subscribe(func(f core.Fix) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	assert.False(t, svc.Emit(goodFix(1)), "stopped service emits nothing")

	require.NoError(t, b.Start(ctx, DefaultProfiles().OptionsFor(core.ModeTracking)))
	require.True(t, svc.Emit(goodFix(2)))
	require.True(t, svc.Emit(goodFix(3)))
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.UpdateOptions(ctx, OptionsPatch{Paused: new(bool)}))

	require.NoError(t, b.Stop(ctx))
	assert.False(t, svc.Running())
	assert.Equal(t, []string{"start", "update", "stop"}, svc.Calls())
}

func TestServiceBackend_StopFailureStillStopsPump(t *testing.T) {
	svc := NewSimulatedService(4)
	b := NewServiceBackend(svc)
	ctx := context.Background()

	require.NoError(t, b.Start(ctx, Options{}))
	svc.FailNext("stop", errBoom)

	err := b.Stop(ctx)
	assert.ErrorIs(t, err, errBoom)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Nil(t, b.cancelPump)
}

func TestServiceBackend_UpdateWhenStoppedFails(t *testing.T) {
	b := NewServiceBackend(NewSimulatedService(1))
	assert.Error(t, b.UpdateOptions(context.Background(), OptionsPatch{}))
}
