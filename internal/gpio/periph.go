package gpio

import (
	"fmt"

	"codeberg.org/mutker/thrustbench/internal/config"
	"codeberg.org/mutker/thrustbench/internal/errors"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphClock drives a pin through periph's register-level host drivers,
// which toggle far faster than the character device on a Raspberry Pi.
type periphClock struct {
	pin pgpio.PinIO
}

func (c periphClock) Out(high bool) error {
	return c.pin.Out(pgpio.Level(high))
}

type periphData struct {
	pin pgpio.PinIO
}

func (d periphData) Read() (bool, error) {
	return d.pin.Read() == pgpio.High, nil
}

// periphRelease returns a pin to a floating input on close.
type periphRelease struct {
	pin pgpio.PinIO
}

func (r periphRelease) Close() error {
	return r.pin.In(pgpio.Float, pgpio.NoEdge)
}

func pinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}

func openPeriph(channels []config.ChannelConfig) (*Bank, error) {
	errFactory := errors.New()

	if _, err := host.Init(); err != nil {
		return nil, errFactory.Wrap(ErrOpenChip, err).WithData("periph host init")
	}

	bank := &Bank{}

	for _, ch := range channels {
		clk := gpioreg.ByName(pinName(ch.Clock))
		dout := gpioreg.ByName(pinName(ch.Data))
		if clk == nil || dout == nil {
			_ = bank.Close()
			return nil, errFactory.WithData(ErrRequestLine, ch.Name)
		}

		if err := clk.Out(pgpio.Low); err != nil {
			_ = bank.Close()
			return nil, errFactory.Wrap(ErrRequestLine, err).WithData(ch.Name)
		}
		bank.closers = append(bank.closers, periphRelease{pin: clk})

		if err := dout.In(pgpio.PullUp, pgpio.NoEdge); err != nil {
			_ = bank.Close()
			return nil, errFactory.Wrap(ErrRequestLine, err).WithData(ch.Name)
		}

		bank.pairs = append(bank.pairs, Pair{
			Name:  ch.Name,
			Clock: periphClock{pin: clk},
			Data:  periphData{pin: dout},
		})
	}

	return bank, nil
}
