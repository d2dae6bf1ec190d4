package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	defaultConfigFile = "/etc/thrustbench.toml"
	envPrefix         = "THRUSTBENCH"
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	Simulate    bool              `mapstructure:"simulate"`
	Output      string            `mapstructure:"output"`
	Serial      SerialConfig      `mapstructure:"serial"`
	GPIO        GPIOConfig        `mapstructure:"gpio"`
	LoadCell    LoadCellConfig    `mapstructure:"loadcell"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Ramp        RampConfig        `mapstructure:"ramp"`
	Motor       MotorConfig       `mapstructure:"motor"`
	ESC         ESCConfig         `mapstructure:"esc"`
	Store       StoreConfig       `mapstructure:"store"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
}

type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type GPIOConfig struct {
	Driver string `mapstructure:"driver"`
	Chip   string `mapstructure:"chip"`
}

type LoadCellConfig struct {
	ReadyPolls int             `mapstructure:"ready_polls"`
	Channels   []ChannelConfig `mapstructure:"channels"`
}

// ChannelConfig binds one HX711 to its BCM clock and data lines.
// Gradient is the normalized reading per gram of load.
type ChannelConfig struct {
	Name     string  `mapstructure:"name"`
	Clock    int     `mapstructure:"clock"`
	Data     int     `mapstructure:"data"`
	Gradient float64 `mapstructure:"gradient"`
}

type CalibrationConfig struct {
	Duration time.Duration `mapstructure:"duration"`
}

type RampConfig struct {
	Step          int           `mapstructure:"step"`
	Ceiling       int           `mapstructure:"ceiling"`
	CommandDelay  time.Duration `mapstructure:"command_delay"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ShutdownDelay time.Duration `mapstructure:"shutdown_delay"`
}

type MotorConfig struct {
	MagnetPoles int `mapstructure:"magnet_poles"`
}

// PolePairs is half the magnet count
func (m MotorConfig) PolePairs() float64 {
	return float64(m.MagnetPoles) / 2
}

type ESCConfig struct {
	VerifyCRC        bool `mapstructure:"verify_crc"`
	MaxFrameAttempts int  `mapstructure:"max_frame_attempts"`
}

type StoreConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// DefaultChannels is the single load cell of the reference rig
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: "lc0", Clock: 7, Data: 1, Gradient: 2.46324555e-5},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("simulate", false)
	v.SetDefault("output", "")

	v.SetDefault("serial.port", "/dev/ttyACM0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", 6*time.Second)

	v.SetDefault("gpio.driver", DriverGPIOD)
	v.SetDefault("gpio.chip", "gpiochip0")

	v.SetDefault("loadcell.ready_polls", 1000000)

	v.SetDefault("calibration.duration", 5*time.Second)

	v.SetDefault("ramp.step", 50)
	v.SetDefault("ramp.ceiling", 1600)
	v.SetDefault("ramp.command_delay", 100*time.Millisecond)
	v.SetDefault("ramp.settle_delay", 3*time.Second)
	v.SetDefault("ramp.shutdown_delay", 100*time.Millisecond)

	v.SetDefault("motor.magnet_poles", 14)

	v.SetDefault("esc.verify_crc", false)
	v.SetDefault("esc.max_frame_attempts", 0)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.db_path", "/var/lib/thrustbench/runs.db")
	v.SetDefault("store.batch_size", 16)
	v.SetDefault("store.batch_timeout", 5)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "thrustbench")
	v.SetDefault("mqtt.topic", "thrustbench/samples")
}

// Load resolves the configuration from defaults, the config file, the
// environment and args, in increasing order of precedence. args excludes
// the program name; the first positional argument is the output CSV path.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("thrustbench", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("simulate", false, "Run against the simulated rig instead of hardware")
	fs.String("port", "/dev/ttyACM0", "ESC serial port")
	fs.String("driver", DriverGPIOD, "GPIO driver (gpiod, periph, sim)")
	fs.Int("step", 50, "Throttle increment per ramp iteration")
	fs.Int("ceiling", 1600, "Throttle command at which the ramp stops")
	fs.Duration("calibration", 5*time.Second, "Zero calibration window")
	fs.Bool("store", false, "Record the run to the SQLite database")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"log_level":            "log-level",
		"simulate":             "simulate",
		"serial.port":          "port",
		"gpio.driver":          "driver",
		"ramp.step":            "step",
		"ramp.ceiling":         "ceiling",
		"calibration.duration": "calibration",
		"store.enabled":        "store",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, *configPath); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if fs.NArg() > 0 {
		cfg.Output = fs.Arg(0)
	}
	if len(cfg.LoadCell.Channels) == 0 {
		cfg.LoadCell.Channels = DefaultChannels()
	}
	if cfg.Simulate {
		cfg.GPIO.Driver = DriverSim
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	explicit := true
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		explicit = false
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return nil
		}
		path = defaultConfigFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value interface{}, reason string) error {
		return errFactory.WithData(errors.ErrInvalidConfig, ValidationError{
			Field:  field,
			Value:  value,
			Reason: reason,
		})
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Output == "" || !strings.HasSuffix(c.Output, ".csv") {
		return errFactory.WithData(errors.ErrInvalidOutput, c.Output)
	}

	switch c.GPIO.Driver {
	case DriverGPIOD, DriverPeriph, DriverSim:
	default:
		return invalid("gpio.driver", c.GPIO.Driver, "unknown driver")
	}

	if c.LoadCell.ReadyPolls <= 0 {
		return invalid("loadcell.ready_polls", c.LoadCell.ReadyPolls, "must be positive")
	}
	for _, ch := range c.LoadCell.Channels {
		if ch.Gradient == 0 {
			return invalid("loadcell.channels.gradient", ch.Name, "must be non-zero")
		}
		if ch.Clock == ch.Data {
			return invalid("loadcell.channels.clock", ch.Clock, "clock and data must be different lines")
		}
	}

	if c.Calibration.Duration <= 0 {
		return invalid("calibration.duration", c.Calibration.Duration, "must be positive")
	}
	if c.Ramp.Step <= 0 {
		return invalid("ramp.step", c.Ramp.Step, "must be positive")
	}
	if c.Ramp.Ceiling < c.Ramp.Step {
		return invalid("ramp.ceiling", c.Ramp.Ceiling, "must be at least one step")
	}
	if c.Motor.MagnetPoles <= 0 || c.Motor.MagnetPoles%2 != 0 {
		return invalid("motor.magnet_poles", c.Motor.MagnetPoles, "must be a positive even number")
	}
	if c.Serial.BaudRate <= 0 {
		return invalid("serial.baud_rate", c.Serial.BaudRate, "must be positive")
	}
	if c.Store.Enabled && c.Store.DBPath == "" {
		return invalid("store.db_path", c.Store.DBPath, "required when the store is enabled")
	}

	return nil
}
