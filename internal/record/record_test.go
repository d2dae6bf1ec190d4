package record

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRow(throttle int, thrust float64) Row {
	return Row{
		Timestamp:     time.Unix(1700000000, 250000000),
		Throttle:      throttle,
		Thrust:        thrust,
		Channels:      []float64{thrust},
		Voltage:       16.4,
		Current:       3.2,
		Temperature:   31,
		ConsumedMAh:   12,
		ElectricalRPM: 12000,
		Omega:         179.5,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")

	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(sampleRow(50, 12.5)))
	require.NoError(t, s.Write(sampleRow(100, math.NaN())))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	records := readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"1700000000.25", "50", "12.5", "16.4", "179.5"}, records[1])
	assert.Equal(t, "NaN", records[2][2])
}

func TestCSVSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")

	for i := 1; i <= 2; i++ {
		s, err := OpenCSV(path)
		require.NoError(t, err)
		require.NoError(t, s.Write(sampleRow(50*i, float64(i))))
		require.NoError(t, s.Close())
	}

	records := readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, "50", records[1][1])
	assert.Equal(t, "100", records[2][1])
}

func TestOpenCSVErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenCSV(filepath.Join(dir, "run.txt"))
	assert.True(t, errors.HasCode(err, ErrInvalidPath))

	_, err = OpenCSV(filepath.Join(dir, "missing", "run.csv"))
	assert.True(t, errors.HasCode(err, ErrOpenFile))
}

type fakeToken struct {
	mqtt.Token
	err      error
	timedOut bool
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	sent         []published
	err          error
	timedOut     bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, payload: payload.([]byte)})
	return fakeToken{err: c.err, timedOut: c.timedOut}
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func TestMQTTSinkWrite(t *testing.T) {
	client := &fakeClient{}
	s := &MQTTSink{client: client, topic: "bench/samples"}

	row := sampleRow(150, math.NaN())
	row.Channels = []float64{math.NaN(), 42}
	require.NoError(t, s.Write(row))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "bench/samples", client.sent[0].topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	assert.Nil(t, got["thrust"])
	assert.Equal(t, []any{nil, 42.0}, got["channels"])
	assert.InDelta(t, 150, got["throttle"], 0)
	assert.InDelta(t, 1700000000.25, got["timestamp"], 1e-6)

	require.NoError(t, s.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTSinkCalibration(t *testing.T) {
	client := &fakeClient{}
	s := &MQTTSink{client: client, topic: "bench/samples"}

	require.NoError(t, s.WriteCalibration([]CalibrationEntry{
		{Channel: "lc0", Gradient: 2e-5, Offset: -500, NoiseStdDev: 0.3, Samples: 400},
		{Channel: "lc1", Gradient: 2e-5, Offset: math.NaN(), NoiseStdDev: math.NaN()},
	}))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "bench/samples/calibration", client.sent[0].topic)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	require.Len(t, got, 2)
	assert.InDelta(t, -500, got[0]["offset"], 0)
	assert.Nil(t, got[1]["offset"])
}

func TestMQTTSinkPublishFailures(t *testing.T) {
	failing := &MQTTSink{client: &fakeClient{err: fmt.Errorf("not connected")}, topic: "t"}
	assert.True(t, errors.HasCode(failing.Write(sampleRow(50, 1)), ErrPublish))

	slow := &MQTTSink{client: &fakeClient{timedOut: true}, topic: "t"}
	assert.True(t, errors.HasCode(slow.Write(sampleRow(50, 1)), ErrPublish))
}

type memorySink struct {
	rows         []Row
	calibrations []CalibrationEntry
	err          error
	closed       bool
}

func (m *memorySink) Write(row Row) error {
	m.rows = append(m.rows, row)
	return m.err
}

func (m *memorySink) Close() error {
	m.closed = true
	return m.err
}

type calibratingSink struct {
	memorySink
}

func (c *calibratingSink) WriteCalibration(entries []CalibrationEntry) error {
	c.calibrations = append(c.calibrations, entries...)
	return nil
}

func TestFanOut(t *testing.T) {
	failing := &memorySink{err: fmt.Errorf("disk full")}
	plain := &memorySink{}
	calibrating := &calibratingSink{}

	f := NewFanOut(logger.Nop(), failing, nil, plain, calibrating)
	assert.Equal(t, 3, f.Len())

	err := f.Write(sampleRow(50, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// Every member still received the row.
	assert.Len(t, failing.rows, 1)
	assert.Len(t, plain.rows, 1)
	assert.Len(t, calibrating.rows, 1)

	require.NoError(t, f.WriteCalibration([]CalibrationEntry{{Channel: "lc0"}}))
	assert.Len(t, calibrating.calibrations, 1)

	err = f.Close()
	assert.True(t, errors.HasCode(err, ErrCloseSinks))
	assert.True(t, failing.closed)
	assert.True(t, plain.closed)
	assert.True(t, calibrating.closed)
}
