package esc

import (
	"bytes"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"go.bug.st/serial"
)

// SerialTransport is the ESC console on a serial port.
type SerialTransport struct {
	port    serial.Port
	name    string
	pending []byte
	chunk   [64]byte
}

// OpenSerial opens name at baud (8N1) with the given read timeout.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*SerialTransport, error) {
	errFactory := errors.New()

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenPort, err).WithData(name)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, errFactory.Wrap(ErrOpenPort, err).WithData(name)
	}

	// Drop anything the ESC printed before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, errFactory.Wrap(ErrOpenPort, err).WithData(name)
	}

	return &SerialTransport{port: port, name: name}, nil
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ReadLine returns bytes up to and including the next newline. A read that
// returns nothing within the port's timeout yields ErrReadTimeout.
func (s *SerialTransport) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i+1])
			s.pending = s.pending[i+1:]
			return line, nil
		}

		n, err := s.port.Read(s.chunk[:])
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", errors.New().WithData(ErrReadTimeout, s.name)
		}
		s.pending = append(s.pending, s.chunk[:n]...)
	}
}

// Flush waits until all written bytes have been transmitted.
func (s *SerialTransport) Flush() error {
	return s.port.Drain()
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// Ports lists serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
