package sim

import (
	"math"
	"sync"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/esc"
)

// DefaultIncrement is the throttle change applied per increment command.
const DefaultIncrement = 50

// ESC is an ESC console on the far side of a serial link. It implements
// esc.Transport.
type ESC struct {
	mu sync.Mutex

	increment int
	model     func(throttle int) esc.Frame

	armed     bool
	telemetry bool
	throttle  int
	consumed  float64

	commands []string
	lines    []string
	junk     []string
	flushes  int
	closed   bool

	writeErr error
	readErr  error
}

// ESCOption configures a simulated ESC.
type ESCOption func(*ESC)

// WithIncrement sets the throttle step per increment command.
func WithIncrement(n int) ESCOption {
	return func(e *ESC) { e.increment = n }
}

// WithModel replaces the telemetry model.
func WithModel(model func(throttle int) esc.Frame) ESCOption {
	return func(e *ESC) { e.model = model }
}

// WithJunk queues lines that are sent ahead of every telemetry frame.
func WithJunk(lines ...string) ESCOption {
	return func(e *ESC) { e.junk = lines }
}

// WithWriteError makes every write fail with err.
func WithWriteError(err error) ESCOption {
	return func(e *ESC) { e.writeErr = err }
}

// NewESC returns a disarmed ESC.
func NewESC(opts ...ESCOption) *ESC {
	e := &ESC{increment: DefaultIncrement}
	e.model = e.defaultModel
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *ESC) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writeErr != nil {
		return 0, e.writeErr
	}

	for i := 0; i < len(p); i++ {
		switch p[i] {
		case ' ':
			if i+1 < len(p) && p[i+1] == '\n' {
				i++
				e.throttle = 0
				e.commands = append(e.commands, esc.CmdStop)
				continue
			}
			e.armed = true
			e.throttle = 0
			e.commands = append(e.commands, esc.CmdArm)
		case 't':
			e.telemetry = true
			e.commands = append(e.commands, esc.CmdTelemetry)
		case 'r':
			e.commands = append(e.commands, esc.CmdIncrement)
			if !e.armed {
				continue
			}
			e.throttle += e.increment
			if e.telemetry {
				e.lines = append(e.lines, e.junk...)
				e.lines = append(e.lines, esc.Encode(e.model(e.throttle)))
			}
		}
	}

	return len(p), nil
}

func (e *ESC) ReadLine() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readErr != nil {
		return "", e.readErr
	}
	if len(e.lines) == 0 {
		return "", errors.New().WithData(esc.ErrReadTimeout, "sim")
	}

	line := e.lines[0]
	e.lines = e.lines[1:]

	return line, nil
}

func (e *ESC) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	return nil
}

func (e *ESC) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// FailReads makes every following ReadLine fail with err.
func (e *ESC) FailReads(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readErr = err
}

// Queue appends raw lines to the receive buffer.
func (e *ESC) Queue(lines ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, lines...)
}

// Throttle returns the current throttle command.
func (e *ESC) Throttle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.throttle
}

// Commands returns every command received, in order.
func (e *ESC) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Count returns how many times cmd was received.
func (e *ESC) Count(cmd string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, c := range e.commands {
		if c == cmd {
			n++
		}
	}

	return n
}

// Flushes returns the number of Flush calls.
func (e *ESC) Flushes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes
}

// Closed reports whether Close was called.
func (e *ESC) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// defaultModel is a 4S pack driving a motor whose speed follows throttle and
// whose current grows with its cube.
func (e *ESC) defaultModel(throttle int) esc.Frame {
	x := math.Min(float64(throttle)/2000, 1)
	current := 40 * x * x * x
	e.consumed += current * 0.1

	return esc.Frame{
		Temperature:   uint8(25 + 30*x),
		Voltage:       16.8 - 0.04*current,
		Current:       current,
		ConsumedMAh:   math.Round(e.consumed),
		ElectricalRPM: 100 * math.Round(float64(throttle)*24/100),
	}
}
