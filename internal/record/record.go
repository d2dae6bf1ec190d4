// Package record persists bench samples: a CSV file for offline analysis,
// MQTT for live dashboards, and any number of those at once.
package record

import (
	"time"
)

// Row is one ramp step: the throttle command, the force measured after the
// motor settled, and the ESC telemetry captured with it.
type Row struct {
	Timestamp     time.Time
	Throttle      int
	Thrust        float64   // grams, NaN if no channel succeeded
	Channels      []float64 // grams per channel, NaN for failed channels
	Voltage       float64
	Current       float64
	Temperature   uint8
	ConsumedMAh   float64
	ElectricalRPM float64
	Omega         float64 // rad/s
}

// Sink receives rows in the order they were produced.
type Sink interface {
	Write(row Row) error
	Close() error
}

// CalibrationEntry is the zero calibration applied to one channel.
type CalibrationEntry struct {
	Timestamp   time.Time
	Channel     string
	Gradient    float64
	Offset      float64
	NoiseStdDev float64
	Samples     int
}

// CalibrationSink is implemented by sinks that also keep calibrations.
type CalibrationSink interface {
	WriteCalibration(entries []CalibrationEntry) error
}

// unixSeconds renders t as seconds since the epoch with a fraction.
func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
