// Package bench runs a thrust sweep: zero the load cells, arm the ESC, raise
// the throttle step by step while recording force and telemetry, and bring
// the motor to a stop however the sweep ends.
package bench

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thrustbench/internal/calibration"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/esc"
	"codeberg.org/mutker/thrustbench/internal/loadcell"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"codeberg.org/mutker/thrustbench/internal/record"
)

// ESC is the motor controller as the control loop sees it.
type ESC interface {
	Arm() error
	Step() (esc.Frame, error)
	Stop() error
}

// Config is the sweep definition.
type Config struct {
	Step              int
	Ceiling           int
	PolePairs         float64
	CalibrationWindow time.Duration
	Channels          []calibration.Channel
}

// Bench owns one sweep. Run drives it from a worker goroutine; Interrupt
// may be called from any goroutine, typically a signal handler.
type Bench struct {
	cfg    Config
	reader calibration.FrameReader
	esc    ESC
	sink   record.Sink
	log    logger.Logger
	now    func() time.Time

	running  atomic.Bool
	state    atomic.Int32
	throttle atomic.Int64

	shutdownMu sync.Mutex

	offsetsMu sync.RWMutex
	offsets   []calibration.Record
}

// New prepares a sweep. The bench is running until Interrupt is called or
// Run finishes.
func New(cfg Config, reader calibration.FrameReader, ctrl ESC, sink record.Sink, log logger.Logger) (*Bench, error) {
	errFactory := errors.New()

	if cfg.Step <= 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "step must be positive")
	}
	if cfg.Ceiling < 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "ceiling must not be negative")
	}
	if len(cfg.Channels) == 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "no load cell channels")
	}
	if log == nil {
		log = logger.Default()
	}

	b := &Bench{
		cfg:    cfg,
		reader: reader,
		esc:    ctrl,
		sink:   sink,
		log:    log,
		now:    time.Now,
	}
	b.running.Store(true)
	b.state.Store(int32(Initializing))

	return b, nil
}

// SetClock replaces the time source used for calibration and timestamps.
func (b *Bench) SetClock(now func() time.Time) {
	b.now = now
}

// State returns the current phase.
func (b *Bench) State() State {
	return State(b.state.Load())
}

// Running reports whether the sweep may continue.
func (b *Bench) Running() bool {
	return b.running.Load()
}

// Throttle returns the last throttle command sent.
func (b *Bench) Throttle() int {
	return int(b.throttle.Load())
}

// Offsets returns a copy of the zero calibration of the current run, or nil
// before calibration has finished.
func (b *Bench) Offsets() []calibration.Record {
	b.offsetsMu.RLock()
	defer b.offsetsMu.RUnlock()
	return append([]calibration.Record(nil), b.offsets...)
}

// Interrupt stops the sweep and zeroes the throttle. An ESC operation in
// flight completes first; the ramp then sends no further increments.
func (b *Bench) Interrupt() {
	if b.running.Swap(false) {
		b.log.Info().Str("state", b.State().String()).Msg("Interrupt received, stopping motor")
	}
	b.shutdown()
}

// Run calibrates, arms the ESC and ramps the throttle until the ceiling is
// reached, ctx is done or Interrupt is called. The motor is stopped on every
// return path. An interrupted sweep is not an error.
func (b *Bench) Run(ctx context.Context) error {
	running := func() bool {
		return b.running.Load() && ctx.Err() == nil
	}

	err := b.run(running)
	b.running.Store(false)

	if serr := b.shutdown(); serr != nil && err == nil {
		b.log.Error().Err(serr).Msg("Motor stop command failed")
		err = serr
	}

	return err
}

func (b *Bench) run(running func() bool) error {
	errFactory := errors.New()

	if !running() {
		return nil
	}
	if err := b.esc.Arm(); err != nil {
		return b.transportFailure(err, "arm")
	}
	b.log.Info().Msg("ESC armed, telemetry enabled")

	if !b.enter(Initializing, Calibrating, running) {
		return nil
	}

	calibrator, err := calibration.New(b.reader, b.cfg.Channels, b.cfg.CalibrationWindow, b.log)
	if err != nil {
		return errFactory.Wrap(ErrCalibration, err)
	}
	calibrator.SetClock(b.now)
	calibrator.SetRunning(running)

	offsets, err := calibrator.Zero()
	if errors.HasCode(err, calibration.ErrInterrupted) {
		return nil
	}
	if err != nil {
		return errFactory.Wrap(ErrCalibration, err)
	}
	b.offsetsMu.Lock()
	b.offsets = offsets
	b.offsetsMu.Unlock()
	b.recordCalibration(offsets)

	if !b.enter(Calibrating, Ramping, running) {
		return nil
	}

	for running() && b.Throttle()+b.cfg.Step <= b.cfg.Ceiling {
		throttle := b.throttle.Add(int64(b.cfg.Step))
		b.log.Info().Int64("throttle", throttle).Msg("Sent throttle")

		frame, err := b.esc.Step()
		if err != nil {
			return b.transportFailure(err, "step")
		}

		row := b.sample(int(throttle), frame, b.reader.ReadFrame())
		b.report(row)

		if err := b.sink.Write(row); err != nil {
			b.log.Warn().Err(err).Int("throttle", row.Throttle).Msg("Failed to record sample")
		}
	}

	if running() {
		b.log.Info().Int("ceiling", b.cfg.Ceiling).Msg("Throttle ceiling reached")
	}

	return nil
}

// enter moves from one phase to the next unless a shutdown got there first.
func (b *Bench) enter(from, to State, running func() bool) bool {
	if !running() {
		return false
	}
	return b.state.CompareAndSwap(int32(from), int32(to)) && running()
}

// shutdown sends the stop sequence. It is safe to run concurrently and
// repeatedly; the ESC link serializes it with any in-flight step.
func (b *Bench) shutdown() error {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()

	b.state.Store(int32(ShuttingDown))
	err := b.esc.Stop()
	b.state.Store(int32(Stopped))

	if err != nil {
		return errors.New().Wrap(ErrShutdown, err)
	}

	return nil
}

func (b *Bench) transportFailure(err error, operation string) error {
	e := errors.New().Wrap(ErrTransport, err).WithData(operation)
	b.log.ErrorWithContext(e, "bench", operation).Msg("ESC transport failed, stopping motor")

	b.running.Store(false)
	if serr := b.shutdown(); serr != nil {
		b.log.Error().Err(serr).Msg("Best-effort motor stop failed")
	}

	return e
}

// sample converts a frame of readings into grams. A failed channel is NaN
// and left out of the total; with no usable channel the total is NaN.
func (b *Bench) sample(throttle int, frame esc.Frame, results []loadcell.Result) record.Row {
	row := record.Row{
		Timestamp:     b.now(),
		Throttle:      throttle,
		Thrust:        math.NaN(),
		Channels:      make([]float64, len(b.cfg.Channels)),
		Voltage:       frame.Voltage,
		Current:       frame.Current,
		Temperature:   frame.Temperature,
		ConsumedMAh:   frame.ConsumedMAh,
		ElectricalRPM: frame.ElectricalRPM,
		Omega:         frame.AngularVelocity(b.cfg.PolePairs),
	}

	total, usable := 0.0, 0
	for i, ch := range b.cfg.Channels {
		row.Channels[i] = math.NaN()
		if i >= len(results) {
			continue
		}

		res := results[i]
		if !res.OK() {
			b.log.Warn().Err(res.Err).Str("channel", ch.Name).Msg("Load cell read failed")
			continue
		}

		grams := res.Value/ch.Gradient + b.offset(i)
		row.Channels[i] = grams
		if math.IsNaN(grams) || math.IsInf(grams, 0) {
			continue
		}
		total += grams
		usable++
	}

	if usable > 0 {
		row.Thrust = total
	}

	return row
}

func (b *Bench) offset(i int) float64 {
	b.offsetsMu.RLock()
	defer b.offsetsMu.RUnlock()

	if i >= len(b.offsets) {
		return math.NaN()
	}
	return b.offsets[i].Offset
}

func (b *Bench) report(row record.Row) {
	b.log.Info().
		Int("throttle", row.Throttle).
		Floats64("channels_g", row.Channels).
		Float64("thrust_g", row.Thrust).
		Float64("voltage_v", row.Voltage).
		Float64("omega_rad_s", row.Omega).
		Time("timestamp", row.Timestamp).
		Msg("Measured thrust")
}

func (b *Bench) recordCalibration(offsets []calibration.Record) {
	cs, ok := b.sink.(record.CalibrationSink)
	if !ok {
		return
	}

	at := b.now()
	entries := make([]record.CalibrationEntry, len(offsets))
	for i, r := range offsets {
		entries[i] = record.CalibrationEntry{
			Timestamp:   at,
			Channel:     r.Channel,
			Gradient:    b.cfg.Channels[i].Gradient,
			Offset:      r.Offset,
			NoiseStdDev: r.NoiseStdDev,
			Samples:     r.Samples,
		}
	}

	if err := cs.WriteCalibration(entries); err != nil {
		b.log.Warn().Err(err).Msg("Failed to record calibration")
	}
}
