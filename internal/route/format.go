package route

import (
	"fmt"
	"math"
	"time"
)

// UnitSystem selects metric or imperial display.
type UnitSystem string

const (
	Metric   UnitSystem = "metric"
	Imperial UnitSystem = "imperial"
)

const metersPerMile = 1609.34

// Placeholder is shown when a value cannot be computed.
const Placeholder = "–"

// FormatDistance renders meters as "850 m" or "1.23 km" (miles for imperial).
func FormatDistance(meters float64, u UnitSystem) string {
	if u == Imperial {
		return fmt.Sprintf("%.2f mi", meters/metersPerMile)
	}
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// FormatSpeed renders a speed given in m/s.
func FormatSpeed(mps float64, u UnitSystem) string {
	if math.IsNaN(mps) || math.IsInf(mps, 0) {
		return Placeholder
	}
	if u == Imperial {
		return fmt.Sprintf("%.1f mph", mps*2.23694)
	}
	return fmt.Sprintf("%.1f km/h", mps*3.6)
}

// FormatPace renders minutes per kilometer (or mile) as "m:ss /km".
func FormatPace(meters float64, d time.Duration, u UnitSystem) string {
	if meters < 1 || d <= 0 {
		return Placeholder
	}
	unit, per := "/km", 1000.0
	if u == Imperial {
		unit, per = "/mi", metersPerMile
	}

	mins := d.Minutes() / (meters / per)
	whole := math.Floor(mins)
	secs := math.Round((mins - whole) * 60)
	if secs == 60 {
		whole++
		secs = 0
	}
	return fmt.Sprintf("%d:%02d %s", int(whole), int(secs), unit)
}

// FormatDuration renders d as hh:mm:ss.
func FormatDuration(d time.Duration) string {
	s := max(int64(d/time.Second), 0)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
