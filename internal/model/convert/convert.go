// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"github.com/heidestein/routetrack/internal/model"
	"github.com/heidestein/routetrack/pkg/core"
)

// PointToCore converts a GORM Point to a core.Point.
func PointToCore(p model.Point) core.Point {
	return core.Point{
		Ts:        p.Ts,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  p.Altitude,
		Accuracy:  p.Accuracy,
		Speed:     p.Speed,
	}
}

// CoreToPoint converts a core.Point to a GORM Point row of the given segment.
func CoreToPoint(trackID string, segmentIndex int, p core.Point) model.Point {
	return model.Point{
		TrackID:      trackID,
		SegmentIndex: segmentIndex,
		Ts:           p.Ts,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Altitude:     p.Altitude,
		Accuracy:     p.Accuracy,
		Speed:        p.Speed,
	}
}

// PointsToSegments groups rows ordered by (segment_index, ts) into segments.
// The result is indexed by segment index; indices without points become
// empty segments. No rows yields a single empty segment.
func PointsToSegments(rows []model.Point) []core.Segment {
	if len(rows) == 0 {
		return []core.Segment{{}}
	}

	last := rows[len(rows)-1].SegmentIndex
	segs := make([]core.Segment, last+1)
	for i := range segs {
		segs[i] = core.Segment{}
	}
	for _, r := range rows {
		if r.SegmentIndex < 0 || r.SegmentIndex > last {
			continue
		}
		segs[r.SegmentIndex] = append(segs[r.SegmentIndex], PointToCore(r))
	}
	return segs
}

// TrackToSummary converts a GORM Track and its optional label to a core.TrackSummary.
func TrackToSummary(t model.Track, label *string) core.TrackSummary {
	return core.TrackSummary{
		ID:        t.ID,
		Distance:  t.Distance,
		StartedAt: t.StartedAt,
		EndedAt:   t.EndedAt,
		Label:     label,
	}
}
