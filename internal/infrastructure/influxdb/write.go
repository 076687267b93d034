package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementReadings    = "readings"
	measurementTransitions = "actuator_transitions"
)

// WriteReading records one sensor reading.
//
// fields carries the same keys as the telemetry payload, for example
// {"moisture": 120} or {"lux": 42.3}. The raw ADC value, when there is one,
// is stored alongside as "raw".
//
// Example:
//
//	client.WriteReading("soil", map[string]any{"moisture": 120, "raw": 135}, time.Now())
func (c *Client) WriteReading(loop string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		measurementReadings,
		map[string]string{
			"site": c.siteID,
			"loop": loop,
		},
		fields,
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WriteTransition records an actuator state change. source is "threshold",
// "dwell" or "remote".
func (c *Client) WriteTransition(loop string, on bool, source string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if on {
		value = 1
	}

	point := write.NewPoint(
		measurementTransitions,
		map[string]string{
			"site":   c.siteID,
			"loop":   loop,
			"source": source,
		},
		map[string]any{
			"on": value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
