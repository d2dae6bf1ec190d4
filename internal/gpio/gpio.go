// Package gpio opens the clock and data lines each load cell is wired to.
package gpio

import (
	"io"

	"codeberg.org/mutker/thrustbench/internal/config"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/loadcell"
	"go.uber.org/multierr"
)

const consumer = "thrustbench"

// Pair is the clock output and data input of one converter.
type Pair struct {
	Name  string
	Clock loadcell.ClockLine
	Data  loadcell.DataLine
}

// Bank owns a set of line pairs and everything that must be released with
// them.
type Bank struct {
	pairs   []Pair
	closers []io.Closer
}

// NewBank wraps lines opened elsewhere, such as simulated converters.
func NewBank(pairs []Pair, closers ...io.Closer) *Bank {
	return &Bank{pairs: pairs, closers: closers}
}

// Open requests a clock line (driven low) and a pulled-up data line for
// every configured channel using the configured driver.
func Open(cfg config.GPIOConfig, channels []config.ChannelConfig) (*Bank, error) {
	switch cfg.Driver {
	case config.DriverGPIOD:
		return openCdev(cfg.Chip, channels)
	case config.DriverPeriph:
		return openPeriph(channels)
	case config.DriverSim:
		return nil, errors.New().New(ErrSimulated)
	}

	return nil, errors.New().WithData(ErrUnknownDriver, cfg.Driver)
}

// Channels binds a load-cell channel to every pair.
func (b *Bank) Channels() ([]*loadcell.Channel, error) {
	channels := make([]*loadcell.Channel, 0, len(b.pairs))
	for _, p := range b.pairs {
		ch, err := loadcell.NewChannel(p.Name, p.Clock, p.Data)
		if err != nil {
			return nil, errors.New().Wrap(ErrRequestLine, err).WithData(p.Name)
		}
		channels = append(channels, ch)
	}

	return channels, nil
}

// Close releases every line, then the chip, reporting all failures.
func (b *Bank) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i].Close())
	}
	b.closers = nil

	if err != nil {
		return errors.New().Wrap(ErrCloseLines, err)
	}

	return nil
}
