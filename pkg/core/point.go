// pkg/core/point.go
package core

import "time"

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// Fix is one raw reading from a location source.
// Nil optional fields were not reported by the source.
type Fix struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	// Timestamp in epoch milliseconds, 0 when the source did not provide one.
	Timestamp int64 `json:"ts,omitempty"`
}

// LatLng returns the fix coordinate.
func (f Fix) LatLng() LatLng {
	return LatLng{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Point is a persisted fix within a segment.
type Point struct {
	Ts        int64
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  *float64
	Speed     *float64
}

// LatLng returns the point coordinate.
func (p Point) LatLng() LatLng {
	return LatLng{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Segment is a contiguous run of points between a start/resume and the next pause/stop.
type Segment []Point

// PointFromFix converts a fix to a point, stamping it with now when the
// source did not report a timestamp.
func PointFromFix(f Fix, now time.Time) Point {
	ts := f.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	return Point{
		Ts:        ts,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
		Accuracy:  f.Accuracy,
		Speed:     f.Speed,
	}
}

// CloneSegments returns a deep copy of segs.
func CloneSegments(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = append(Segment(make([]Point, 0, len(s))), s...)
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
