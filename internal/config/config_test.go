package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/thrustbench/internal/config"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	configPath := filepath.Join(tempDir, "thrustbench.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "debug"

[serial]
port = "/dev/ttyUSB1"
read_timeout = "2s"

[gpio]
driver = "periph"

[loadcell]
ready_polls = 5000

[[loadcell.channels]]
name = "front"
clock = 20
data = 21
gradient = 2.5e-5

[[loadcell.channels]]
name = "rear"
clock = 25
data = 8
gradient = 2.4e-5

[calibration]
duration = "3s"

[ramp]
step = 25
ceiling = 1000
settle_delay = "1500ms"

[motor]
magnet_poles = 12

[store]
enabled = true
db_path = "/tmp/bench.db"
`)

	t.Setenv("THRUSTBENCH_CONFIG", configPath)

	cfg, err := config.Load([]string{"run.csv"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.Equal(t, "run.csv", cfg.Output)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate, "Expected default baud rate")
	assert.Equal(t, 2*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, config.DriverPeriph, cfg.GPIO.Driver)
	assert.Equal(t, 5000, cfg.LoadCell.ReadyPolls)
	require.Len(t, cfg.LoadCell.Channels, 2)
	assert.Equal(t, config.ChannelConfig{Name: "front", Clock: 20, Data: 21, Gradient: 2.5e-5}, cfg.LoadCell.Channels[0])
	assert.Equal(t, "rear", cfg.LoadCell.Channels[1].Name)
	assert.Equal(t, 3*time.Second, cfg.Calibration.Duration)
	assert.Equal(t, 25, cfg.Ramp.Step)
	assert.Equal(t, 1000, cfg.Ramp.Ceiling)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ramp.SettleDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Ramp.CommandDelay, "Expected default command delay")
	assert.Equal(t, 6.0, cfg.Motor.PolePairs())
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "/tmp/bench.db", cfg.Store.DBPath)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("THRUSTBENCH_CONFIG", "")

	cfg, err := config.Load([]string{"out.csv"})
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 6*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, config.DriverGPIOD, cfg.GPIO.Driver)
	assert.Equal(t, 1000000, cfg.LoadCell.ReadyPolls)
	assert.Equal(t, config.DefaultChannels(), cfg.LoadCell.Channels)
	assert.Equal(t, 5*time.Second, cfg.Calibration.Duration)
	assert.Equal(t, 50, cfg.Ramp.Step)
	assert.Equal(t, 1600, cfg.Ramp.Ceiling)
	assert.Equal(t, 3*time.Second, cfg.Ramp.SettleDelay)
	assert.Equal(t, 14, cfg.Motor.MagnetPoles)
	assert.Equal(t, 7.0, cfg.Motor.PolePairs())
	assert.False(t, cfg.ESC.VerifyCRC)
	assert.False(t, cfg.Store.Enabled)
	assert.Empty(t, cfg.MQTT.Broker)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("THRUSTBENCH_CONFIG", configPath)

	_, err := config.Load([]string{"out.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestMissingExplicitConfigFile(t *testing.T) {
	t.Setenv("THRUSTBENCH_CONFIG", "")

	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "out.csv"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("THRUSTBENCH_CONFIG", configPath)

	_, err := config.Load([]string{"out.csv"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestFlagsOverrideFile(t *testing.T) {
	configPath := writeConfig(t, `
[ramp]
step = 25
ceiling = 1000
`)
	t.Setenv("THRUSTBENCH_CONFIG", configPath)

	cfg, err := config.Load([]string{"--step", "100", "--log-level", "debug", "--simulate", "out.csv"})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Ramp.Step, "Expected step to be set by flag")
	assert.Equal(t, 1000, cfg.Ramp.Ceiling)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Simulate)
	assert.Equal(t, config.DriverSim, cfg.GPIO.Driver, "Simulation forces the sim GPIO driver")
}

func TestEnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
[serial]
port = "/dev/ttyUSB1"
`)
	t.Setenv("THRUSTBENCH_CONFIG", configPath)
	t.Setenv("THRUSTBENCH_SERIAL_PORT", "/dev/ttyS3")

	cfg, err := config.Load([]string{"out.csv"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS3", cfg.Serial.Port)
}

func TestValidate(t *testing.T) {
	t.Setenv("THRUSTBENCH_CONFIG", "")

	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"missing output", []string{}, errors.ErrInvalidOutput},
		{"output without csv suffix", []string{"run.txt"}, errors.ErrInvalidOutput},
		{"zero step", []string{"--step", "0", "out.csv"}, errors.ErrInvalidConfig},
		{"ceiling below step", []string{"--step", "100", "--ceiling", "50", "out.csv"}, errors.ErrInvalidConfig},
		{"unknown driver", []string{"--driver", "spidev", "out.csv"}, errors.ErrInvalidConfig},
		{"zero calibration window", []string{"--calibration", "0s", "out.csv"}, errors.ErrInvalidConfig},
		{"bad flag", []string{"--no-such-flag", "out.csv"}, errors.ErrBindFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.args)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
