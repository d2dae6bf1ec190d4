package record

import (
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"go.uber.org/multierr"
)

// FanOut writes every row to all of its members. A failing member does not
// stop the others from receiving the row.
type FanOut struct {
	sinks []Sink
	log   logger.Logger
}

// NewFanOut combines sinks; nil entries are skipped.
func NewFanOut(log logger.Logger, sinks ...Sink) *FanOut {
	if log == nil {
		log = logger.Default()
	}

	f := &FanOut{log: log}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}

	return f
}

// Len returns the number of member sinks.
func (f *FanOut) Len() int {
	return len(f.sinks)
}

func (f *FanOut) Write(row Row) error {
	var err error
	for _, s := range f.sinks {
		if werr := s.Write(row); werr != nil {
			f.logFailure(werr, "write")
			err = multierr.Append(err, werr)
		}
	}

	return err
}

// WriteCalibration forwards entries to members that keep calibrations.
func (f *FanOut) WriteCalibration(entries []CalibrationEntry) error {
	var err error
	for _, s := range f.sinks {
		cs, ok := s.(CalibrationSink)
		if !ok {
			continue
		}
		if werr := cs.WriteCalibration(entries); werr != nil {
			f.logFailure(werr, "write_calibration")
			err = multierr.Append(err, werr)
		}
	}

	return err
}

// Close closes every member and reports all failures.
func (f *FanOut) Close() error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.Close())
	}
	f.sinks = nil

	if err != nil {
		return errors.New().Wrap(ErrCloseSinks, err)
	}

	return nil
}

func (f *FanOut) logFailure(err error, operation string) {
	var e errors.Error
	if errors.As(err, &e) {
		f.log.ErrorWithContext(e, "record", operation).Send()
		return
	}
	f.log.Error().Err(err).Str("operation", operation).Msg("Sink failed")
}
