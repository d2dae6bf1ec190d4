package gpio

import (
	"io"

	"codeberg.org/mutker/thrustbench/internal/config"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"github.com/warthog618/gpiod"
)

// cdevClock drives a line through the GPIO character device.
type cdevClock struct {
	line *gpiod.Line
}

func (c cdevClock) Out(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return c.line.SetValue(v)
}

type cdevData struct {
	line *gpiod.Line
}

func (d cdevData) Read() (bool, error) {
	v, err := d.line.Value()
	return v == 1, err
}

func openCdev(chipName string, channels []config.ChannelConfig) (*Bank, error) {
	errFactory := errors.New()

	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenChip, err).WithData(chipName)
	}

	bank := &Bank{closers: []io.Closer{chip}}

	for _, ch := range channels {
		clk, err := chip.RequestLine(ch.Clock, gpiod.AsOutput(0))
		if err != nil {
			_ = bank.Close()
			return nil, errFactory.Wrap(ErrRequestLine, err).WithData(ch.Name)
		}
		bank.closers = append(bank.closers, clk)

		dout, err := chip.RequestLine(ch.Data, gpiod.AsInput, gpiod.WithPullUp)
		if err != nil {
			_ = bank.Close()
			return nil, errFactory.Wrap(ErrRequestLine, err).WithData(ch.Name)
		}
		bank.closers = append(bank.closers, dout)

		bank.pairs = append(bank.pairs, Pair{
			Name:  ch.Name,
			Clock: cdevClock{line: clk},
			Data:  cdevData{line: dout},
		})
	}

	return bank, nil
}
