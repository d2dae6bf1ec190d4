package store

import (
	"time"

	"codeberg.org/mutker/thrustbench/internal/record"
)

// Recorder keeps every sample and calibration of one bench run.
type Recorder interface {
	record.Sink
	record.CalibrationSink
	RunID() int64
}

// Repository defines the interface for run data storage
type Repository interface {
	BeginRun(run Run) (int64, error)
	EndRun(id int64, at time.Time) error
	RecordSample(id int64, row record.Row) error
	RecordCalibration(id int64, entries []record.CalibrationEntry) error
	Close() error
}

// Run describes the sweep a recording belongs to.
type Run struct {
	StartedAt time.Time
	Output    string
	Step      int
	Ceiling   int
	Channels  []string
}
