package location

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/heidestein/routetrack/internal/location"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
