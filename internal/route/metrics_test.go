package route

import (
	"testing"
	"time"

	"github.com/heidestein/routetrack/pkg/core"
	"github.com/stretchr/testify/assert"
)

func ms(v int64) *int64 { return &v }

// Start at 0, points at 0 and 10s, pause, resume at 70s into segment 1.
func TestDuration_PauseGapExcluded(t *testing.T) {
	segs := []core.Segment{
		{pt(0, 0, 0), pt(10_000, 0, 0.001)},
		{pt(70_000, 0, 0.002)},
	}

	for _, live := range []bool{false, true} {
		got := Duration(segs, Timing{Now: time.UnixMilli(70_000), StartedAt: 0, Live: live})
		assert.Equal(t, 10*time.Second, got, "live=%v", live)
	}
}

func TestDuration_LiveSegmentRunsToNow(t *testing.T) {
	segs := []core.Segment{
		{pt(0, 0, 0), pt(10_000, 0, 0)},
		{pt(70_000, 0, 0)},
	}

	got := Duration(segs, Timing{Now: time.UnixMilli(75_000), Live: true})
	assert.Equal(t, 15*time.Second, got)

	got = Duration(segs, Timing{Now: time.UnixMilli(75_000), Live: false})
	assert.Equal(t, 10*time.Second, got, "a paused session only counts spans")
}

func TestDuration_FallsBackToTrackTimes(t *testing.T) {
	tests := []struct {
		name string
		segs []core.Segment
		tm   Timing
		want time.Duration
	}{
		{
			name: "no points, active",
			segs: []core.Segment{{}},
			tm:   Timing{Now: time.UnixMilli(5_000), StartedAt: 1_000},
			want: 4 * time.Second,
		},
		{
			name: "single point segments, ended",
			segs: []core.Segment{{pt(2_000, 0, 0)}, {pt(3_000, 0, 0)}},
			tm:   Timing{Now: time.UnixMilli(100_000), StartedAt: 1_000, EndedAt: ms(9_000)},
			want: 8 * time.Second,
		},
		{
			name: "equal timestamps do not span",
			segs: []core.Segment{{pt(2_000, 0, 0), pt(2_000, 0, 0)}},
			tm:   Timing{Now: time.UnixMilli(5_000), StartedAt: 1_000, EndedAt: ms(3_000)},
			want: 2 * time.Second,
		},
		{
			name: "clock skew clamps to zero",
			segs: nil,
			tm:   Timing{Now: time.UnixMilli(0), StartedAt: 1_000},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Duration(tt.segs, tt.tm))
		})
	}
}

func TestAvgSpeed(t *testing.T) {
	assert.InDelta(t, 2.5, AvgSpeed(25, 10*time.Second), 1e-9)
	assert.Equal(t, SpeedCeiling, AvgSpeed(1000, time.Second))
	assert.Zero(t, AvgSpeed(100, 0))
	assert.Zero(t, AvgSpeed(-5, time.Second))
}
