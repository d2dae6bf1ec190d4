package loadcell

import (
	"runtime"

	"codeberg.org/mutker/thrustbench/internal/errors"
)

// Reader clocks a fixed set of channels in lock-step so that every device is
// sampled on the same physical edges.
type Reader struct {
	channels   []*Channel
	readyPolls int
}

// NewReader returns a Reader over channels, in the order results are reported.
func NewReader(channels []*Channel, readyPolls int) (*Reader, error) {
	if len(channels) == 0 {
		return nil, errors.New().New(ErrNoChannels)
	}
	if readyPolls <= 0 {
		readyPolls = DefaultReadyPolls
	}

	return &Reader{channels: channels, readyPolls: readyPolls}, nil
}

// Len returns the number of channels read per frame
func (r *Reader) Len() int {
	return len(r.channels)
}

// Channels returns the channels in frame order
func (r *Reader) Channels() []*Channel {
	return r.channels
}

// ReadFrame reads every channel once. The returned slice has one entry per
// channel in request order; a failed channel never affects the others.
func (r *Reader) ReadFrame() []Result {
	errFactory := errors.New()
	n := len(r.channels)
	results := make([]Result, n)
	data := make([]uint32, n)

	fail := func(i int, code errors.ErrorCode, cause error) {
		if results[i].Err != nil {
			return
		}
		e := errFactory.New(code)
		if cause != nil {
			e = errFactory.Wrap(code, cause)
		}
		results[i].Err = e.WithData(r.channels[i].Name)
	}

	// HX711 holds DOUT high while a conversion is in progress.
	for i, ch := range r.channels {
		polls := 0
		for {
			busy, err := ch.data.Read()
			if err != nil {
				fail(i, ErrLineFault, err)
				break
			}
			if !busy {
				break
			}
			if polls >= r.readyPolls {
				fail(i, ErrNotReady, nil)
				break
			}
			polls++
			runtime.Gosched()
		}
	}

	for bit := 0; bit < Bits; bit++ {
		r.pulse(results, fail)

		var sampled [2][]bool
		for s := range sampled {
			sampled[s] = make([]bool, n)
			for i, ch := range r.channels {
				if results[i].Err != nil {
					continue
				}
				high, err := ch.data.Read()
				if err != nil {
					fail(i, ErrLineFault, err)
					continue
				}
				sampled[s][i] = high
			}
		}

		for i := range r.channels {
			if results[i].Err != nil {
				continue
			}
			data[i] <<= 1
			if sampled[0][i] || sampled[1][i] {
				data[i] |= 1
			}
		}
	}

	// The 25th pulse selects channel A, gain 128 for the next conversion.
	for i, ch := range r.channels {
		if err := ch.clock.Out(true); err != nil {
			fail(i, ErrLineFault, err)
		}
	}
	for i, ch := range r.channels {
		if err := ch.clock.Out(false); err != nil {
			fail(i, ErrLineFault, err)
		}
	}

	// After the last pulse DOUT must return high until the next conversion.
	for i, ch := range r.channels {
		if results[i].Err != nil {
			continue
		}
		high, err := ch.data.Read()
		if err != nil {
			fail(i, ErrLineFault, err)
			continue
		}
		if !high {
			fail(i, ErrFramingError, nil)
		}
	}

	for i := range r.channels {
		if results[i].Err != nil {
			continue
		}
		results[i].Raw = data[i]
		results[i].Value = Decode(data[i])
	}

	return results
}

// pulse raises every live clock, then lowers every clock it raised.
func (r *Reader) pulse(results []Result, fail func(int, errors.ErrorCode, error)) {
	raised := make([]bool, len(r.channels))
	for i, ch := range r.channels {
		if results[i].Err != nil {
			continue
		}
		raised[i] = true
		if err := ch.clock.Out(true); err != nil {
			fail(i, ErrLineFault, err)
		}
	}
	for i, ch := range r.channels {
		if !raised[i] {
			continue
		}
		if err := ch.clock.Out(false); err != nil {
			fail(i, ErrLineFault, err)
		}
	}
}
