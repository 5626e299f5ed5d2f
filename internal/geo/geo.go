package geo

import (
	"math"

	"github.com/heidestein/routetrack/pkg/core"
)

// EarthRadius is the mean Earth radius in meters used for great-circle distances.
const EarthRadius = 6371000.0

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Haversine returns the great-circle distance between a and b in meters.
// NaN coordinates propagate to the result.
func Haversine(a, b core.LatLng) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// MetersPerDegree returns the local length of one degree of latitude and of
// longitude at the given latitude, with second order latitude correction.
func MetersPerDegree(latitude float64) (mLat, mLon float64) {
	phi := toRad(latitude)
	mLat = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi)
	mLon = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi)
	return mLat, mLon
}

// ToLocal projects p onto a flat plane centered at origin.
// x grows east and y grows north, both in meters.
func ToLocal(origin, p core.LatLng) (x, y float64) {
	mLat, mLon := MetersPerDegree(origin.Latitude)
	x = (p.Longitude - origin.Longitude) * mLon
	y = (p.Latitude - origin.Latitude) * mLat
	return x, y
}

// PathLength sums haversine distances between consecutive points.
func PathLength(points []core.Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1].LatLng(), points[i].LatLng())
	}
	return total
}

// RouteLength sums the length of every segment. The gap between the last
// point of one segment and the first point of the next is never counted.
func RouteLength(segments []core.Segment) float64 {
	var total float64
	for _, seg := range segments {
		total += PathLength(seg)
	}
	return total
}
