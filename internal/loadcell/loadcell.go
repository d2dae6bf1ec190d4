// Package loadcell reads HX711 24-bit load-cell converters over bit-banged
// clock and data lines, sampling any number of devices on shared clock edges.
package loadcell

import (
	"fmt"
	"math"
)

const (
	// Bits per conversion result
	Bits = 24
	// Pulses per read: 24 data bits plus one pulse selecting channel A, gain 128
	Pulses = Bits + 1
	// DefaultReadyPolls bounds the busy-wait on a converter's data line
	DefaultReadyPolls = 1000000

	fullScale = 1 << (Bits - 1)
	rawMask   = 1<<Bits - 1
	signBit   = 1 << (Bits - 1)
)

// ClockLine is an output line driving a converter's PD_SCK pin.
type ClockLine interface {
	Out(high bool) error
}

// DataLine is an input line (with pull-up) wired to a converter's DOUT pin.
type DataLine interface {
	Read() (bool, error)
}

// Channel is one HX711 and the two lines it is wired to.
type Channel struct {
	Name  string
	clock ClockLine
	data  DataLine
}

// NewChannel binds a converter to its lines and drives the clock low, which
// also wakes the device if it was powered down by a long clock-high period.
func NewChannel(name string, clock ClockLine, data DataLine) (*Channel, error) {
	if err := clock.Out(false); err != nil {
		return nil, fmt.Errorf("channel %s: drive clock low: %w", name, err)
	}

	return &Channel{Name: name, clock: clock, data: data}, nil
}

// Read performs a single-channel frame. The caller is expected to have
// waited for the device to be ready; the ready gate still applies.
func (c *Channel) Read(readyPolls int) Result {
	r := &Reader{channels: []*Channel{c}, readyPolls: readyPolls}
	return r.ReadFrame()[0]
}

// Result is the outcome of reading one channel in one frame.
type Result struct {
	Raw   uint32
	Value float64
	Err   error
}

// OK reports whether the channel produced a reading
func (r Result) OK() bool {
	return r.Err == nil
}

// Decode interprets a 24-bit two's complement code and normalizes it by 2^23.
func Decode(raw uint32) float64 {
	raw &= rawMask

	var v int32
	if raw&signBit != 0 {
		v = -int32((^raw & (signBit - 1)) + 1)
	} else {
		v = int32(raw)
	}

	return float64(v) / fullScale
}

// Encode is the inverse of Decode for values in [-1, 1).
func Encode(v float64) uint32 {
	return uint32(int32(math.Round(v*fullScale))) & rawMask
}
