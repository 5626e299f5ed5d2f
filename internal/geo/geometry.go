package geo

import (
	"encoding/json"
	"fmt"

	"github.com/heidestein/routetrack/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ToWebMercator converts a WGS84 longitude/latitude to EPSG:3857 meters.
func ToWebMercator(longitude, latitude float64) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(longitude, latitude, 0)
	return x, y
}

// RouteGeometry builds a MultiLineString with one LineString per segment.
// Segments with fewer than two distinct positions have no extent and are
// skipped.
// When mercator is true the coordinates are projected to EPSG:3857.
func RouteGeometry(segments []core.Segment, mercator bool) geom.MultiLineString {
	var project func(lon, lat float64) (float64, float64)
	if mercator {
		f := wgs84.EPSG().Transform(4326, 3857)
		project = func(lon, lat float64) (float64, float64) {
			x, y, _ := f(lon, lat, 0)
			return x, y
		}
	}

	lines := make([]geom.LineString, 0, len(segments))
	for _, seg := range segments {
		if len(seg) < 2 {
			continue
		}
		flat := make([]float64, 0, len(seg)*2)
		for _, p := range seg {
			x, y := p.Longitude, p.Latitude
			if project != nil {
				x, y = project(x, y)
			}
			flat = append(flat, x, y)
		}
		ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
		if err != nil {
			continue
		}
		lines = append(lines, ls)
	}
	return geom.NewMultiLineString(lines)
}

// RouteFeature renders a track as a GeoJSON Feature whose geometry is the
// route's MultiLineString.
func RouteFeature(track core.TrackSummary, segments []core.Segment, mercator bool) ([]byte, error) {
	props := map[string]any{
		"startedAt": track.StartedAt,
		"distance":  RouteLength(segments),
		"segments":  len(segments),
	}
	if track.EndedAt != nil {
		props["endedAt"] = *track.EndedAt
	}
	if track.Label != nil {
		props["label"] = *track.Label
	}

	feature := geom.GeoJSONFeature{
		ID:         track.ID,
		Geometry:   RouteGeometry(segments, mercator).AsGeometry(),
		Properties: props,
	}
	out, err := json.Marshal(feature)
	if err != nil {
		return nil, fmt.Errorf("marshal route feature: %w", err)
	}
	return out, nil
}
