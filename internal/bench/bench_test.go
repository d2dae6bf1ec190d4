package bench_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/thrustbench/internal/bench"
	"codeberg.org/mutker/thrustbench/internal/calibration"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/esc"
	"codeberg.org/mutker/thrustbench/internal/loadcell"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"codeberg.org/mutker/thrustbench/internal/record"
	"codeberg.org/mutker/thrustbench/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 3 * time.Second

type memorySink struct {
	rows         []record.Row
	calibrations []record.CalibrationEntry
	onWrite      func(record.Row)
	err          error
}

func (m *memorySink) Write(row record.Row) error {
	m.rows = append(m.rows, row)
	if m.onWrite != nil {
		m.onWrite(row)
	}
	return m.err
}

func (m *memorySink) WriteCalibration(entries []record.CalibrationEntry) error {
	m.calibrations = append(m.calibrations, entries...)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) throttles() []int {
	out := make([]int, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Throttle
	}
	return out
}

// steppingClock advances one second on every call.
func steppingClock() func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

var twoCells = []calibration.Channel{
	{Name: "front", Gradient: 2.5e-5},
	{Name: "rear", Gradient: 2e-5},
}

type fixture struct {
	rig   *sim.Rig
	link  *esc.Link
	sink  *memorySink
	bench *bench.Bench
}

func newFixture(t *testing.T, ceiling int) *fixture {
	t.Helper()

	rig := sim.NewRig(sim.RigConfig{
		Gradients: []float64{twoCells[0].Gradient, twoCells[1].Gradient},
		Zero:      0.01,
	})

	var channels []*loadcell.Channel
	for i, cell := range rig.Cells {
		ch, err := loadcell.NewChannel(twoCells[i].Name, cell.Clock(), cell.Data())
		require.NoError(t, err)
		channels = append(channels, ch)
	}
	reader, err := loadcell.NewReader(channels, 10)
	require.NoError(t, err)

	link := esc.NewLink(rig.ESC, esc.LinkConfig{
		CommandDelay:  time.Millisecond,
		SettleDelay:   settle,
		ShutdownDelay: time.Millisecond,
	}, logger.Nop())
	link.SetSleep(func(time.Duration) {})

	sink := &memorySink{}
	b, err := bench.New(bench.Config{
		Step:              sim.DefaultIncrement,
		Ceiling:           ceiling,
		PolePairs:         7,
		CalibrationWindow: 5 * time.Second,
		Channels:          twoCells,
	}, reader, link, sink, logger.Nop())
	require.NoError(t, err)
	b.SetClock(steppingClock())

	return &fixture{rig: rig, link: link, sink: sink, bench: b}
}

func TestRunSweep(t *testing.T) {
	f := newFixture(t, 200)

	require.NoError(t, f.bench.Run(context.Background()))

	assert.Equal(t, []int{50, 100, 150, 200}, f.sink.throttles())
	assert.Equal(t, []string{
		esc.CmdArm, esc.CmdTelemetry,
		esc.CmdIncrement, esc.CmdIncrement, esc.CmdIncrement, esc.CmdIncrement,
		esc.CmdStop,
	}, f.rig.ESC.Commands())
	assert.Equal(t, bench.Stopped, f.bench.State())
	assert.False(t, f.bench.Running())
	assert.Equal(t, 200, f.bench.Throttle())

	for _, row := range f.sink.rows {
		want := 0.0008 * float64(row.Throttle*row.Throttle)
		assert.InDelta(t, want, row.Thrust, 0.02, "throttle %d", row.Throttle)
		require.Len(t, row.Channels, 2)
		assert.InDelta(t, want/2, row.Channels[0], 0.01)
		assert.InDelta(t, want/2, row.Channels[1], 0.01)

		erpm := 100 * math.Round(float64(row.Throttle)*24/100)
		assert.InDelta(t, erpm, row.ElectricalRPM, 1e-9)
		assert.InDelta(t, erpm*2*math.Pi/60/7, row.Omega, 1e-9)
	}

	for i := 1; i < len(f.sink.rows); i++ {
		assert.True(t, f.sink.rows[i].Timestamp.After(f.sink.rows[i-1].Timestamp))
	}
}

func TestRunForwardsCalibration(t *testing.T) {
	f := newFixture(t, 50)

	require.NoError(t, f.bench.Run(context.Background()))

	require.Len(t, f.sink.calibrations, 2)
	assert.Equal(t, "front", f.sink.calibrations[0].Channel)
	assert.Equal(t, 2.5e-5, f.sink.calibrations[0].Gradient)
	assert.InDelta(t, -0.01/2.5e-5, f.sink.calibrations[0].Offset, 0.01)
	assert.InDelta(t, -0.01/2e-5, f.sink.calibrations[1].Offset, 0.01)
	assert.Equal(t, 4, f.sink.calibrations[1].Samples)

	offsets := f.bench.Offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, "rear", offsets[1].Channel)
}

func TestRunCeiling(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int
		want    []int
	}{
		{name: "not a multiple of step", ceiling: 120, want: []int{50, 100}},
		{name: "below first step", ceiling: 49, want: []int{}},
		{name: "zero", ceiling: 0, want: []int{}},
		{name: "exact", ceiling: 150, want: []int{50, 100, 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ceiling)
			require.NoError(t, f.bench.Run(context.Background()))
			assert.Equal(t, tt.want, f.sink.throttles())
			assert.Equal(t, len(tt.want), f.rig.ESC.Count(esc.CmdIncrement))
			assert.Equal(t, 1, f.rig.ESC.Count(esc.CmdStop))
		})
	}
}

func TestInterruptFromSink(t *testing.T) {
	f := newFixture(t, 1600)
	f.sink.onWrite = func(row record.Row) {
		if row.Throttle == 100 {
			f.bench.Interrupt()
		}
	}

	require.NoError(t, f.bench.Run(context.Background()))

	assert.Equal(t, []int{50, 100}, f.sink.throttles())
	assert.Equal(t, 2, f.rig.ESC.Count(esc.CmdIncrement))

	cmds := f.rig.ESC.Commands()
	assert.Equal(t, esc.CmdStop, cmds[len(cmds)-1])
	assert.Zero(t, f.rig.ESC.Throttle())
	assert.Equal(t, bench.Stopped, f.bench.State())
}

func TestInterruptDuringStep(t *testing.T) {
	f := newFixture(t, 1600)

	f.link.SetSleep(func(d time.Duration) {
		if d != settle || f.rig.ESC.Throttle() != 150 {
			return
		}
		go f.bench.Interrupt()
		for f.bench.Running() {
			time.Sleep(time.Millisecond)
		}
	})

	require.NoError(t, f.bench.Run(context.Background()))

	// The step in flight completes and is recorded; nothing follows it but
	// stop commands.
	assert.Equal(t, []int{50, 100, 150}, f.sink.throttles())

	cmds := f.rig.ESC.Commands()
	firstStop := -1
	for i, c := range cmds {
		if c == esc.CmdStop {
			firstStop = i
			break
		}
	}
	require.NotEqual(t, -1, firstStop)
	for _, c := range cmds[firstStop:] {
		assert.Equal(t, esc.CmdStop, c)
	}
	assert.Equal(t, 3, f.rig.ESC.Count(esc.CmdIncrement))
}

func TestInterruptBeforeRun(t *testing.T) {
	f := newFixture(t, 1600)

	f.bench.Interrupt()
	f.bench.Interrupt()
	require.NoError(t, f.bench.Run(context.Background()))

	assert.Empty(t, f.sink.rows)
	assert.Zero(t, f.rig.ESC.Count(esc.CmdArm))
	assert.Equal(t, 3, f.rig.ESC.Count(esc.CmdStop))
	assert.Equal(t, bench.Stopped, f.bench.State())
}

func TestContextCancelled(t *testing.T) {
	f := newFixture(t, 1600)

	ctx, cancel := context.WithCancel(context.Background())
	f.sink.onWrite = func(row record.Row) {
		if row.Throttle == 150 {
			cancel()
		}
	}

	require.NoError(t, f.bench.Run(ctx))
	assert.Equal(t, []int{50, 100, 150}, f.sink.throttles())
	assert.Equal(t, 1, f.rig.ESC.Count(esc.CmdStop))
}

// interruptingReader interrupts the bench on the nth frame.
type interruptingReader struct {
	calibration.FrameReader
	n     int
	reads int
	b     *bench.Bench
}

func (r *interruptingReader) ReadFrame() []loadcell.Result {
	r.reads++
	if r.reads == r.n {
		r.b.Interrupt()
	}
	return r.FrameReader.ReadFrame()
}

func TestInterruptDuringCalibration(t *testing.T) {
	dev := sim.NewESC()
	link := esc.NewLink(dev, esc.LinkConfig{}, logger.Nop())
	link.SetSleep(func(time.Duration) {})

	reader := &interruptingReader{FrameReader: &scripted{}, n: 2}
	sink := &memorySink{}
	b, err := bench.New(bench.Config{
		Step:              50,
		Ceiling:           1600,
		CalibrationWindow: time.Hour,
		Channels:          twoCells,
	}, reader, link, sink, logger.Nop())
	require.NoError(t, err)
	b.SetClock(steppingClock())
	reader.b = b

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 2, reader.reads)
	assert.Equal(t, 1, dev.Count(esc.CmdArm))
	assert.Equal(t, 1, dev.Count(esc.CmdTelemetry))
	assert.Zero(t, dev.Count(esc.CmdIncrement))
	assert.GreaterOrEqual(t, dev.Count(esc.CmdStop), 1)
	assert.Empty(t, sink.calibrations)
	assert.Empty(t, sink.rows)
	assert.Equal(t, bench.Stopped, b.State())
}

func TestTransportFailureDuringRamp(t *testing.T) {
	f := newFixture(t, 1600)
	f.sink.onWrite = func(row record.Row) {
		if row.Throttle == 100 {
			f.rig.ESC.FailReads(fmt.Errorf("usb disconnect"))
		}
	}

	err := f.bench.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, bench.ErrTransport))
	assert.True(t, errors.HasCode(err, esc.ErrReadFailed))

	assert.Equal(t, []int{50, 100}, f.sink.throttles())
	assert.Equal(t, 3, f.rig.ESC.Count(esc.CmdIncrement))
	assert.GreaterOrEqual(t, f.rig.ESC.Count(esc.CmdStop), 1)
	assert.Zero(t, f.rig.ESC.Throttle())
	assert.Equal(t, bench.Stopped, f.bench.State())
	assert.False(t, f.bench.Running())
}

func TestTransportFailureOnArm(t *testing.T) {
	dev := sim.NewESC(sim.WithWriteError(fmt.Errorf("EIO")))
	link := esc.NewLink(dev, esc.LinkConfig{}, logger.Nop())
	link.SetSleep(func(time.Duration) {})

	sink := &memorySink{}
	reader := &scripted{}
	b, err := bench.New(bench.Config{
		Step:              50,
		Ceiling:           100,
		CalibrationWindow: 5 * time.Second,
		Channels:          twoCells,
	}, reader, link, sink, logger.Nop())
	require.NoError(t, err)
	b.SetClock(steppingClock())

	err = b.Run(context.Background())
	assert.True(t, errors.HasCode(err, bench.ErrTransport))
	assert.Zero(t, reader.reads)
	assert.Empty(t, sink.calibrations)
	assert.Empty(t, sink.rows)
	assert.Equal(t, bench.Stopped, b.State())
}

// scripted serves calibration frames of zero-load readings, then the
// configured ramp frames, then repeats the last ramp frame.
type scripted struct {
	ramp  [][]loadcell.Result
	reads int
}

const calibrationFrames = 4

func (s *scripted) ReadFrame() []loadcell.Result {
	s.reads++
	if s.reads <= calibrationFrames || len(s.ramp) == 0 {
		return []loadcell.Result{ok(0.01), ok(0.01)}
	}
	i := s.reads - calibrationFrames - 1
	if i >= len(s.ramp) {
		i = len(s.ramp) - 1
	}
	return s.ramp[i]
}

func ok(v float64) loadcell.Result {
	return loadcell.Result{Value: v}
}

func failed() loadcell.Result {
	return loadcell.Result{Err: errors.New().New(loadcell.ErrNotReady)}
}

func TestThrustWithFailedChannels(t *testing.T) {
	reader := &scripted{ramp: [][]loadcell.Result{
		{ok(0.01 + 2.5e-5*10), failed()},
		{failed(), failed()},
		{ok(0.01 + 2.5e-5*30), ok(0.01 + 2e-5*20)},
	}}

	dev := sim.NewESC()
	link := esc.NewLink(dev, esc.LinkConfig{}, logger.Nop())
	link.SetSleep(func(time.Duration) {})

	sink := &memorySink{}
	b, err := bench.New(bench.Config{
		Step:              50,
		Ceiling:           150,
		PolePairs:         7,
		CalibrationWindow: 5 * time.Second,
		Channels:          twoCells,
	}, reader, link, sink, logger.Nop())
	require.NoError(t, err)
	b.SetClock(steppingClock())

	require.NoError(t, b.Run(context.Background()))
	require.Len(t, sink.rows, 3)

	// One channel failed: it is NaN and left out of the total.
	assert.InDelta(t, 10, sink.rows[0].Channels[0], 1e-6)
	assert.True(t, math.IsNaN(sink.rows[0].Channels[1]))
	assert.InDelta(t, 10, sink.rows[0].Thrust, 1e-6)

	// Every channel failed: the total is NaN, not the previous value.
	assert.True(t, math.IsNaN(sink.rows[1].Thrust))
	assert.True(t, math.IsNaN(sink.rows[1].Channels[0]))

	assert.InDelta(t, 50, sink.rows[2].Thrust, 1e-6)
}

func TestSinkFailureDoesNotStopRamp(t *testing.T) {
	f := newFixture(t, 200)
	f.sink.err = fmt.Errorf("disk full")

	require.NoError(t, f.bench.Run(context.Background()))
	assert.Len(t, f.sink.rows, 4)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  bench.Config
	}{
		{name: "zero step", cfg: bench.Config{Step: 0, Ceiling: 100, Channels: twoCells}},
		{name: "negative ceiling", cfg: bench.Config{Step: 50, Ceiling: -1, Channels: twoCells}},
		{name: "no channels", cfg: bench.Config{Step: 50, Ceiling: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bench.New(tt.cfg, &scripted{}, nil, &memorySink{}, logger.Nop())
			assert.True(t, errors.HasCode(err, bench.ErrInvalidConfig))
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state bench.State
		want  string
	}{
		{bench.Initializing, "initializing"},
		{bench.Calibrating, "calibrating"},
		{bench.Ramping, "ramping"},
		{bench.ShuttingDown, "shutting_down"},
		{bench.Stopped, "stopped"},
		{bench.State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

// tracingESC records ESC operations, and the bench state at arming, into a
// log shared with tracingReader.
type tracingESC struct {
	bench.ESC
	events  *[]string
	b       *bench.Bench
	armedIn bench.State
}

func (e *tracingESC) Arm() error {
	e.armedIn = e.b.State()
	*e.events = append(*e.events, "arm")
	return e.ESC.Arm()
}

func (e *tracingESC) Step() (esc.Frame, error) {
	*e.events = append(*e.events, "step")
	return e.ESC.Step()
}

type tracingReader struct {
	calibration.FrameReader
	events *[]string
}

func (r *tracingReader) ReadFrame() []loadcell.Result {
	*r.events = append(*r.events, "read")
	return r.FrameReader.ReadFrame()
}

func TestArmBeforeCalibration(t *testing.T) {
	dev := sim.NewESC()
	link := esc.NewLink(dev, esc.LinkConfig{}, logger.Nop())
	link.SetSleep(func(time.Duration) {})

	var events []string
	ctrl := &tracingESC{ESC: link, events: &events}
	reader := &tracingReader{FrameReader: &scripted{}, events: &events}

	sink := &memorySink{}
	b, err := bench.New(bench.Config{
		Step:              50,
		Ceiling:           50,
		PolePairs:         7,
		CalibrationWindow: 5 * time.Second,
		Channels:          twoCells,
	}, reader, ctrl, sink, logger.Nop())
	require.NoError(t, err)
	b.SetClock(steppingClock())
	ctrl.b = b

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, bench.Initializing, ctrl.armedIn)
	assert.Equal(t, []string{"arm", "read", "read", "read", "read", "step", "read"}, events)
	assert.Equal(t, []string{
		esc.CmdArm, esc.CmdTelemetry, esc.CmdIncrement, esc.CmdStop,
	}, dev.Commands())
	require.Len(t, sink.calibrations, 2)
	assert.Equal(t, []int{50}, sink.throttles())
}

func TestOffsetsAfterRun(t *testing.T) {
	f := newFixture(t, 100)
	assert.Empty(t, f.bench.Offsets())

	require.NoError(t, f.bench.Run(context.Background()))

	offsets := f.bench.Offsets()
	require.Len(t, offsets, 2)
	offsets[0].Offset = 0
	assert.NotZero(t, f.bench.Offsets()[0].Offset)
}
