// Package route holds the in-memory view of the route being recorded and the
// metrics derived from it.
package route

import (
	"sync"

	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/pkg/core"
)

// Buffer is the in-memory route, indexed by segment. It always holds at
// least one segment.
type Buffer struct {
	mu   sync.RWMutex
	segs []core.Segment
}

// NewBuffer returns a buffer with one empty segment.
func NewBuffer() *Buffer {
	return &Buffer{segs: []core.Segment{{}}}
}

// Reset replaces the contents with a copy of segs.
func (b *Buffer) Reset(segs []core.Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(segs) == 0 {
		b.segs = []core.Segment{{}}
		return
	}
	b.segs = core.CloneSegments(segs)
}

// OpenSegment makes sure segment idx exists, adding empty segments up to it.
// An existing segment is left as is.
func (b *Buffer) OpenSegment(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.growLocked(idx)
}

func (b *Buffer) growLocked(idx int) {
	for len(b.segs) <= idx {
		b.segs = append(b.segs, core.Segment{})
	}
}

// Append adds p to segment idx.
func (b *Buffer) Append(idx int, p core.Point) {
	if idx < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.growLocked(idx)
	b.segs[idx] = append(b.segs[idx], p)
}

// Len returns the number of segments.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.segs)
}

// Segments returns a deep copy of the route.
func (b *Buffer) Segments() []core.Segment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return core.CloneSegments(b.segs)
}

// LastPoint returns the most recent point in the highest non-empty segment.
func (b *Buffer) LastPoint() (core.Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.segs) - 1; i >= 0; i-- {
		if n := len(b.segs[i]); n > 0 {
			return b.segs[i][n-1], true
		}
	}
	return core.Point{}, false
}

// Distance returns the route length in meters.
func (b *Buffer) Distance() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return geo.RouteLength(b.segs)
}
