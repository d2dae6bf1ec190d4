// Package calibration derives per-channel zero offsets and noise levels from
// an unloaded sampling window, and fits reading-per-gram gradients from
// reference weights.
package calibration

import (
	"math"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/loadcell"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"github.com/dustin/go-humanize"
)

// FrameReader reads one result per channel per call.
type FrameReader interface {
	ReadFrame() []loadcell.Result
}

// Channel identifies a load cell and its reading-per-gram gradient.
type Channel struct {
	Name     string
	Gradient float64
}

// Record is the zero calibration of one channel. Offset is in grams and is
// added to reading/gradient; NoiseStdDev is the standard deviation of the
// zero-load signal in grams. Both are NaN when no reading succeeded.
type Record struct {
	Channel     string
	Offset      float64
	NoiseStdDev float64
	Mean        float64
	Samples     int
}

// Calibrator samples unloaded cells for a fixed window.
type Calibrator struct {
	reader   FrameReader
	channels []Channel
	window   time.Duration
	log      logger.Logger

	now     func() time.Time
	running func() bool
}

// New returns a calibrator for channels, which must be in frame order.
func New(reader FrameReader, channels []Channel, window time.Duration, log logger.Logger) (*Calibrator, error) {
	errFactory := errors.New()

	for _, ch := range channels {
		if ch.Gradient == 0 || math.IsNaN(ch.Gradient) || math.IsInf(ch.Gradient, 0) {
			return nil, errFactory.WithData(ErrInvalidGradient, ch.Name)
		}
	}
	if log == nil {
		log = logger.Default()
	}

	return &Calibrator{
		reader:   reader,
		channels: channels,
		window:   window,
		log:      log,
		now:      time.Now,
		running:  func() bool { return true },
	}, nil
}

// SetClock replaces the time source.
func (c *Calibrator) SetClock(now func() time.Time) {
	c.now = now
}

// SetRunning installs the check consulted between frames.
func (c *Calibrator) SetRunning(running func() bool) {
	c.running = running
}

// accumulator keeps sums of readings shifted by the channel's first
// reading, so a steady signal accumulates exact zeros.
type accumulator struct {
	shift float64
	sum   float64
	sumSq float64
	count int
}

func (a *accumulator) add(v float64) {
	if a.count == 0 {
		a.shift = v
	}
	d := v - a.shift
	a.sum += d
	a.sumSq += d * d
	a.count++
}

// Zero reads frames until the window has elapsed and reduces them to one
// Record per channel. Only successful readings are accumulated.
func (c *Calibrator) Zero() ([]Record, error) {
	errFactory := errors.New()
	acc := make([]accumulator, len(c.channels))
	frames := 0

	c.log.Info().
		Dur("window", c.window).
		Int("channels", len(c.channels)).
		Msg("Calibrating, keep the load cells unloaded")

	start := c.now()
	for c.now().Sub(start) < c.window {
		if !c.running() {
			return nil, errFactory.WithData(ErrInterrupted, frames)
		}

		results := c.reader.ReadFrame()
		if len(results) != len(c.channels) {
			return nil, errFactory.WithData(ErrChannelMismatch, len(results))
		}
		frames++

		for i, res := range results {
			if !res.OK() {
				continue
			}
			acc[i].add(res.Value)
		}
	}

	records := make([]Record, len(c.channels))
	for i, ch := range c.channels {
		records[i] = reduce(ch, acc[i])

		c.log.Info().
			Str("channel", ch.Name).
			Float64("offset_g", records[i].Offset).
			Float64("noise_g", records[i].NoiseStdDev).
			Str("samples", humanize.Comma(int64(records[i].Samples))).
			Msg("Zero calibration")
	}

	c.log.Debug().Str("frames", humanize.Comma(int64(frames))).Msg("Calibration window closed")

	return records, nil
}

func reduce(ch Channel, a accumulator) Record {
	r := Record{Channel: ch.Name, Samples: a.count}
	if a.count == 0 {
		r.Mean = math.NaN()
		r.Offset = math.NaN()
		r.NoiseStdDev = math.NaN()
		return r
	}

	n := float64(a.count)
	shifted := a.sum / n
	mean := a.shift + shifted
	variance := math.Max(a.sumSq/n-shifted*shifted, 0)

	r.Mean = mean
	r.Offset = -mean / ch.Gradient
	r.NoiseStdDev = math.Sqrt(variance / (ch.Gradient * ch.Gradient))

	return r
}
