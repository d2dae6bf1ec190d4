// Package sim models the bench hardware: HX711 converters on their clock and
// data lines, and an ESC answering console commands with telemetry.
package sim

import (
	"sync"
)

const (
	hx711Bits   = 24
	hx711Mask   = 1<<hx711Bits - 1
	defaultBusy = 3
)

// HX711Option configures a simulated converter.
type HX711Option func(*HX711)

// WithConversionReads sets how many data-line reads report busy after a
// conversion result has been shifted out.
func WithConversionReads(n int) HX711Option {
	return func(h *HX711) { h.conversionReads = n }
}

// WithStuckBusy makes the converter hold DOUT high forever.
func WithStuckBusy() HX711Option {
	return func(h *HX711) { h.stuck = true }
}

// WithFramingFault makes DOUT stay low after the gain pulse.
func WithFramingFault() HX711Option {
	return func(h *HX711) { h.framingFault = true }
}

// WithGlitch drops every nth high bit sample to low while shifting.
func WithGlitch(every int) HX711Option {
	return func(h *HX711) { h.glitchEvery = every }
}

// WithReadError makes every data-line read fail with err.
func WithReadError(err error) HX711Option {
	return func(h *HX711) { h.readErr = err }
}

// HX711 is a converter seen from its two pins. Conversion results come from
// source, a 24-bit code, sampled on the first clock edge of each read.
type HX711 struct {
	mu sync.Mutex

	source          func() uint32
	conversionReads int
	stuck           bool
	framingFault    bool
	glitchEvery     int
	readErr         error

	clock     bool
	pulse     int
	word      uint32
	dout      bool
	busyLeft  int
	justRead  bool
	highReads int

	rises  int
	frames int
}

// NewHX711 returns a ready converter.
func NewHX711(source func() uint32, opts ...HX711Option) *HX711 {
	h := &HX711{source: source, conversionReads: defaultBusy}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Clock returns the PD_SCK input of the converter.
func (h *HX711) Clock() *ClockPin {
	return &ClockPin{h: h}
}

// Data returns the DOUT output of the converter.
func (h *HX711) Data() *DataPin {
	return &DataPin{h: h}
}

// Rises returns the number of rising clock edges seen.
func (h *HX711) Rises() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rises
}

// Frames returns the number of completed 25-pulse reads.
func (h *HX711) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

func (h *HX711) ready() bool {
	return !h.stuck && !h.justRead && h.busyLeft == 0
}

func (h *HX711) rise() {
	h.rises++

	if h.pulse == 0 {
		if !h.ready() {
			return
		}
		h.word = h.source() & hx711Mask
	}

	h.pulse++
	switch {
	case h.pulse <= hx711Bits:
		h.dout = h.word&(1<<(hx711Bits-h.pulse)) != 0
	default:
		h.pulse = 0
		h.frames++
		h.dout = !h.framingFault
		h.justRead = true
		h.busyLeft = h.conversionReads
	}
}

func (h *HX711) read() (bool, error) {
	if h.readErr != nil {
		return false, h.readErr
	}

	if h.pulse > 0 {
		if !h.dout {
			return false, nil
		}
		h.highReads++
		if h.glitchEvery > 0 && h.highReads%h.glitchEvery == 0 {
			return false, nil
		}
		return true, nil
	}

	switch {
	case h.stuck:
		return true, nil
	case h.justRead:
		h.justRead = false
		return h.dout, nil
	case h.busyLeft > 0:
		h.busyLeft--
		return true, nil
	}

	return false, nil
}

// ClockPin drives a simulated converter's clock.
type ClockPin struct {
	h *HX711
}

func (p *ClockPin) Out(high bool) error {
	p.h.mu.Lock()
	defer p.h.mu.Unlock()

	if high && !p.h.clock {
		p.h.rise()
	}
	p.h.clock = high

	return nil
}

// DataPin reads a simulated converter's DOUT.
type DataPin struct {
	h *HX711
}

func (p *DataPin) Read() (bool, error) {
	p.h.mu.Lock()
	defer p.h.mu.Unlock()
	return p.h.read()
}

// Constant returns a source that always converts to code.
func Constant(code uint32) func() uint32 {
	return func() uint32 { return code }
}

// Sequence returns a source cycling through codes.
func Sequence(codes ...uint32) func() uint32 {
	var mu sync.Mutex
	i := 0
	return func() uint32 {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c
	}
}
