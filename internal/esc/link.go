package esc

import (
	"sync"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
)

// Console commands understood by the ESC firmware.
const (
	CmdArm       = " "
	CmdTelemetry = "t"
	CmdIncrement = "r"
	CmdStop      = " \n"
)

// Transport is a byte link to the ESC console.
type Transport interface {
	Write(p []byte) (int, error)
	// ReadLine returns the next line including its terminator, or an error
	// once the read timeout expires.
	ReadLine() (string, error)
	// Flush blocks until buffered output has been transmitted.
	Flush() error
	Close() error
}

// LinkConfig holds the command pacing and telemetry acceptance rules.
type LinkConfig struct {
	CommandDelay  time.Duration
	SettleDelay   time.Duration
	ShutdownDelay time.Duration
	VerifyCRC     bool
	// MaxFrameAttempts bounds the lines read per Step; zero reads until a
	// line decodes or the transport fails.
	MaxFrameAttempts int
}

// Link serializes access to the ESC. Every operation holds the lock for its
// entire write, wait, read and flush sequence so a shutdown issued from a
// signal handler never interleaves with a ramp step.
type Link struct {
	mu     sync.Mutex
	t      Transport
	cfg    LinkConfig
	log    logger.Logger
	sleep  func(time.Duration)
	closed bool
}

// NewLink wraps an open transport.
func NewLink(t Transport, cfg LinkConfig, log logger.Logger) *Link {
	if log == nil {
		log = logger.Default()
	}

	return &Link{t: t, cfg: cfg, log: log, sleep: time.Sleep}
}

// SetSleep replaces the delay function, for tests and simulation.
func (l *Link) SetSleep(sleep func(time.Duration)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sleep = sleep
}

// Arm sends the arm command followed by the telemetry enable command.
func (l *Link) Arm() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := l.write(CmdArm); err != nil {
		return err
	}
	l.sleep(l.cfg.CommandDelay)

	if err := l.write(CmdTelemetry); err != nil {
		return err
	}
	l.sleep(l.cfg.CommandDelay)

	l.log.Debug().Msg("ESC armed, telemetry enabled")

	return nil
}

// Step raises the throttle by one increment, waits for the motor to settle
// and returns the first telemetry line that decodes. Rejected lines are
// logged and skipped; transport failures are returned.
func (l *Link) Step() (Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(); err != nil {
		return Frame{}, err
	}
	if err := l.write(CmdIncrement); err != nil {
		return Frame{}, err
	}
	l.sleep(l.cfg.SettleDelay)

	return l.readFrame()
}

// Stop zeroes the throttle and waits for the command to leave the port.
// It is safe to call repeatedly and from another goroutine than Step.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := l.write(CmdStop); err != nil {
		return err
	}
	if err := l.t.Flush(); err != nil {
		return errors.New().Wrap(ErrFlushFailed, err)
	}
	l.sleep(l.cfg.ShutdownDelay)

	return nil
}

// Close releases the transport. Further operations fail with ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return l.t.Close()
}

func (l *Link) readFrame() (Frame, error) {
	errFactory := errors.New()

	for attempt := 1; ; attempt++ {
		line, err := l.t.ReadLine()
		if err != nil {
			if errors.HasCode(err, ErrReadTimeout) {
				return Frame{}, err
			}
			return Frame{}, errFactory.Wrap(ErrReadFailed, err)
		}

		f, err := Decode(line)
		if err == nil && l.cfg.VerifyCRC && !f.ChecksumOK() {
			err = errFactory.WithData(ErrBadChecksum, line)
		}
		if err == nil {
			return f, nil
		}

		l.log.Debug().Err(err).Int("attempt", attempt).Msg("Discarding telemetry line")

		if l.cfg.MaxFrameAttempts > 0 && attempt >= l.cfg.MaxFrameAttempts {
			return Frame{}, errFactory.Wrap(ErrFrameAttempts, err)
		}
	}
}

func (l *Link) write(cmd string) error {
	if _, err := l.t.Write([]byte(cmd)); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err).WithMessage("Failed to send ESC command " + quote(cmd))
	}

	return nil
}

func (l *Link) checkOpen() error {
	if l.closed {
		return errors.New().New(ErrClosed)
	}

	return nil
}

func quote(cmd string) string {
	switch cmd {
	case CmdArm:
		return "arm"
	case CmdTelemetry:
		return "telemetry"
	case CmdIncrement:
		return "increment"
	case CmdStop:
		return "stop"
	}

	return cmd
}
