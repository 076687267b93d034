// Package sensor turns raw hardware samples into the derived values the
// control loops compare against their thresholds.
//
// Three sources exist:
//
//   - SoilMoisture: ADC count inverted, moisture = 255 - raw.
//   - Light: lux = raw * 100 / 255, "dark" below raw 128.
//   - Thermometer: DS18B20 one-wire sensor read through sysfs, degrees C.
//
// Each Source also renders its Reading as the flat telemetry fields sent to
// the brokers and stored in InfluxDB.
package sensor
