package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/thrustbench/internal/bench"
	"codeberg.org/mutker/thrustbench/internal/calibration"
	"codeberg.org/mutker/thrustbench/internal/config"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/esc"
	"codeberg.org/mutker/thrustbench/internal/gpio"
	"codeberg.org/mutker/thrustbench/internal/loadcell"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"codeberg.org/mutker/thrustbench/internal/pid"
	"codeberg.org/mutker/thrustbench/internal/record"
	"codeberg.org/mutker/thrustbench/internal/sim"
	"codeberg.org/mutker/thrustbench/internal/store"
)

// simulatedZero is the unloaded reading of every simulated cell.
const simulatedZero = 0.01

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <filename.csv>\n%v\n", os.Args[0], err)
		return 1
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	lock, err := pid.Acquire("")
	if err != nil {
		logCoded(err, "Failed to acquire PID lock")
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := session(cfg); err != nil {
		logCoded(err, "Bench session failed")
		return 1
	}

	logger.Info().Msg("Exiting...")

	return 0
}

func session(cfg *config.Config) error {
	errFactory := errors.New()

	bank, transport, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to release GPIO lines")
		}
	}()

	link := esc.NewLink(transport, esc.LinkConfig{
		CommandDelay:     cfg.Ramp.CommandDelay,
		SettleDelay:      cfg.Ramp.SettleDelay,
		ShutdownDelay:    cfg.Ramp.ShutdownDelay,
		VerifyCRC:        cfg.ESC.VerifyCRC,
		MaxFrameAttempts: cfg.ESC.MaxFrameAttempts,
	}, logger.Default())
	defer func() {
		if err := link.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close ESC port")
		}
	}()

	lines, err := bank.Channels()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	reader, err := loadcell.NewReader(lines, cfg.LoadCell.ReadyPolls)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	sink, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close recorders")
		}
	}()

	channels := make([]calibration.Channel, len(cfg.LoadCell.Channels))
	for i, ch := range cfg.LoadCell.Channels {
		channels[i] = calibration.Channel{Name: ch.Name, Gradient: ch.Gradient}
	}

	b, err := bench.New(bench.Config{
		Step:              cfg.Ramp.Step,
		Ceiling:           cfg.Ramp.Ceiling,
		PolePairs:         cfg.Motor.PolePairs(),
		CalibrationWindow: cfg.Calibration.Duration,
		Channels:          channels,
	}, reader, link, sink, logger.Default())
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	stop := handleSignals(b)
	defer stop()

	logger.Info().Str("output", cfg.Output).Msg("Saving results")

	if err := b.Run(context.Background()); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func openHardware(cfg *config.Config) (*gpio.Bank, esc.Transport, error) {
	if cfg.Simulate {
		gradients := make([]float64, len(cfg.LoadCell.Channels))
		for i, ch := range cfg.LoadCell.Channels {
			gradients[i] = ch.Gradient
		}

		rig := sim.NewRig(sim.RigConfig{
			Gradients: gradients,
			Zero:      simulatedZero,
			Noise:     2e-6,
			Seed:      time.Now().UnixNano(),
		}, sim.WithIncrement(cfg.Ramp.Step))

		pairs := make([]gpio.Pair, len(rig.Cells))
		for i, cell := range rig.Cells {
			pairs[i] = gpio.Pair{Name: cfg.LoadCell.Channels[i].Name, Clock: cell.Clock(), Data: cell.Data()}
		}

		logger.Info().Int("channels", len(pairs)).Msg("Using simulated rig")

		return gpio.NewBank(pairs), rig.ESC, nil
	}

	bank, err := gpio.Open(cfg.GPIO, cfg.LoadCell.Channels)
	if err != nil {
		return nil, nil, err
	}

	transport, err := esc.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
	if err != nil {
		_ = bank.Close()
		if ports, perr := esc.Ports(); perr == nil {
			logger.Warn().Strs("available", ports).Msg("Serial ports found")
		}
		return nil, nil, err
	}

	logger.Info().
		Str("driver", cfg.GPIO.Driver).
		Str("port", cfg.Serial.Port).
		Int("channels", len(cfg.LoadCell.Channels)).
		Msg("Hardware opened")

	return bank, transport, nil
}

func openSinks(cfg *config.Config) (*record.FanOut, error) {
	csvSink, err := record.OpenCSV(cfg.Output)
	if err != nil {
		return nil, err
	}
	sinks := []record.Sink{csvSink}

	if cfg.MQTT.Broker != "" {
		mqttSink, err := record.DialMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			_ = csvSink.Close()
			return nil, err
		}
		sinks = append(sinks, mqttSink)
	}

	names := make([]string, len(cfg.LoadCell.Channels))
	for i, ch := range cfg.LoadCell.Channels {
		names[i] = ch.Name
	}

	rec, err := store.NewService(store.Config{
		DBPath:       cfg.Store.DBPath,
		BatchSize:    cfg.Store.BatchSize,
		BatchTimeout: cfg.Store.BatchTimeout,
		Enabled:      cfg.Store.Enabled,
	}, store.Run{
		Output:   cfg.Output,
		Step:     cfg.Ramp.Step,
		Ceiling:  cfg.Ramp.Ceiling,
		Channels: names,
	}, logger.Default())
	if err != nil {
		_ = record.NewFanOut(logger.Default(), sinks...).Close()
		return nil, err
	}
	sinks = append(sinks, rec)

	return record.NewFanOut(logger.Default(), sinks...), nil
}

// handleSignals interrupts the bench on SIGINT or SIGTERM. The returned
// function stops listening.
func handleSignals(b *bench.Bench) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			logger.Info().Str("signal", sig.String()).Msg("Received termination signal.")
			b.Interrupt()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func logCoded(err error, msg string) {
	var e errors.Error
	if errors.As(err, &e) {
		logger.ErrorWithCode(e).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
