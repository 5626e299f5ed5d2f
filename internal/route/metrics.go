package route

import (
	"math"
	"time"

	"github.com/heidestein/routetrack/pkg/core"
)

// SpeedCeiling caps the displayed average speed, in m/s.
const SpeedCeiling = 20.0

// Timing is what Duration needs beyond the points themselves.
type Timing struct {
	Now       time.Time
	StartedAt int64
	EndedAt   *int64
	// Live is true while the last segment is still recording.
	Live bool
}

// Duration sums the time spent in each segment. The live last segment runs
// until now. Without any segment spanning two timestamps it falls back to the
// track's start and end.
func Duration(segs []core.Segment, t Timing) time.Duration {
	var (
		sum    int64
		spans  bool
		nowMs  = t.Now.UnixMilli()
		lastIx = len(segs) - 1
	)

	for i, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		first := seg[0].Ts

		if len(seg) >= 2 && seg[len(seg)-1].Ts > first {
			spans = true
		}

		switch {
		case i == lastIx && t.Live:
			if nowMs > first {
				sum += nowMs - first
			}
		case len(seg) >= 2:
			if last := seg[len(seg)-1].Ts; last > first {
				sum += last - first
			}
		}
	}

	if !spans {
		end := nowMs
		if t.EndedAt != nil {
			end = *t.EndedAt
		}
		sum = max(end-t.StartedAt, 0)
	}
	return time.Duration(sum) * time.Millisecond
}

// AvgSpeed returns meters per second over d, clamped to [0, SpeedCeiling].
func AvgSpeed(meters float64, d time.Duration) float64 {
	secs := d.Seconds()
	if secs <= 0 || math.IsNaN(meters) {
		return 0
	}
	return math.Max(0, math.Min(SpeedCeiling, meters/secs))
}
