package sensor

import (
	"context"
	"math"
	"time"
)

// Reading is one sample of a control loop's sensor.
type Reading struct {
	// Value is the derived quantity compared against the threshold.
	Value float64

	// Raw is the ADC count, or -1 when the sensor is not on the ADC.
	Raw int

	At time.Time
}

// Source produces readings for one control loop.
type Source interface {
	// Name is the loop name used in logs, metrics and history.
	Name() string

	// Sample takes one reading. Hardware failures wrap
	// hardware.ErrHardwareUnavailable.
	Sample(ctx context.Context) (Reading, error)

	// Fields renders r as telemetry fields, e.g. {"moisture": 120}.
	Fields(r Reading) map[string]any
}

// ADC reads one channel of the analog bus.
type ADC interface {
	Read(ctx context.Context, channel int) (uint8, error)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
