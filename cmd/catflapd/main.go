package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/csmith/envflag"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/catflap/catflapd/api"
	"github.com/catflap/catflapd/config"
	"github.com/catflap/catflapd/internal/access"
	"github.com/catflap/catflapd/internal/clock"
	"github.com/catflap/catflapd/internal/controller"
	"github.com/catflap/catflapd/internal/door"
	"github.com/catflap/catflapd/internal/gpio"
	"github.com/catflap/catflapd/internal/history"
	"github.com/catflap/catflapd/internal/ledger"
	"github.com/catflap/catflapd/internal/notify"
	"github.com/catflap/catflapd/internal/settings"
	"github.com/catflap/catflapd/internal/wiegand"
)

var (
	configFile = flag.String("config", "./config.yml", "Path to the config file")
	Debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	envflag.Parse()
	logger := createLogger(*Debug)
	loadedConfig, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to load config")
	}
	run(loadedConfig, logger)
}

func run(cfg *config.Config, logger *zerolog.Logger) {
	log.Info().Msg("Starting catflap controller")
	clk := clock.NewMonotonic()

	store := settings.NewStore(&settings.FileBackend{Path: cfg.SettingsPath}, logger)
	if err := store.Load(); err != nil {
		log.Fatal().Err(err).Msg("Unable to load settings")
	}
	rec := store.Record()
	log.Info().Strs("Credentials", lo.FilterMap(rec.Credentials[:], func(c settings.Credential, _ int) (string, bool) {
		return fmt.Sprintf("%s (%d/%d)", c.Name, c.Facility, c.Card), c.Name != ""
	})).Msg("Loaded credentials")

	hist, err := history.Open(cfg.HistoryPath, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to open history database")
	}
	if err = hist.StartPruner(time.Duration(cfg.HistoryRetention)); err != nil {
		log.Fatal().Err(err).Msg("Unable to schedule history pruning")
	}
	defer hist.StopPruner()

	hw, err := setupHardware(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to claim gpio lines")
	}
	defer hw.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := notify.NewPool(cfg.NotifyWorkers, cfg.NotifyQueue, notify.NewClient(store), logger)
	pool.Start(ctx)

	led := ledger.New()
	loop := controller.New(controller.Deps{
		Clock:        clk,
		Settings:     store,
		Engine:       access.NewEngine(store),
		EntryCapture: wiegand.NewCapture(clk),
		ExitCapture:  wiegand.NewCapture(clk),
		EntryDoor:    door.NewController("entry", hw.entrySolenoid, door.EntryTimings, logger),
		ExitDoor:     door.NewController("exit", hw.exitSolenoid, door.ExitTimings, logger),
		Sensor:       hw.sensor,
		Ledger:       led,
		Notifier:     pool,
		History:      hist,
		Logger:       logger,
		PollInterval: time.Duration(cfg.PollInterval),
		DoorTimeout:  time.Duration(cfg.DoorTimeout),
		SwingTimeout: time.Duration(cfg.SwingTimeout),
	})
	if err = loop.AttachInputs(hw.entryD0, hw.entryD1, hw.exitD0, hw.exitD1); err != nil {
		log.Fatal().Err(err).Msg("Unable to attach input handlers")
	}
	go loop.Run(ctx)

	ws := api.Server{
		Loop:     loop,
		Settings: store,
		Ledger:   led,
		History:  hist,
		Clock:    clk,
	}
	ws.Init(cfg.APIPort, ws.GetRoutes())
	if err = ws.Run(); err != nil {
		log.Error().Err(err).Msg("error running web server")
	}
	log.Info().Msg("Exiting.")
}

type hardware struct {
	entrySolenoid gpio.Actuator
	exitSolenoid  gpio.Actuator
	entryD0       gpio.InputLine
	entryD1       gpio.InputLine
	exitD0        gpio.InputLine
	exitD1        gpio.InputLine
	sensor        gpio.InputLine
}

func setupHardware(cfg *config.Config) (*hardware, error) {
	g := cfg.GPIO
	hw := &hardware{}
	var err error
	if hw.entrySolenoid, err = gpio.RequestActuator(g.Chip, g.EntrySolenoid); err != nil {
		return nil, fmt.Errorf("entry solenoid: %w", err)
	}
	if hw.exitSolenoid, err = gpio.RequestActuator(g.Chip, g.ExitSolenoid); err != nil {
		return nil, fmt.Errorf("exit solenoid: %w", err)
	}
	if hw.entryD0, err = gpio.RequestInput(g.Chip, g.EntryData0); err != nil {
		return nil, fmt.Errorf("entry data0: %w", err)
	}
	if hw.entryD1, err = gpio.RequestInput(g.Chip, g.EntryData1); err != nil {
		return nil, fmt.Errorf("entry data1: %w", err)
	}
	if hw.exitD0, err = gpio.RequestInput(g.Chip, g.ExitData0); err != nil {
		return nil, fmt.Errorf("exit data0: %w", err)
	}
	if hw.exitD1, err = gpio.RequestInput(g.Chip, g.ExitData1); err != nil {
		return nil, fmt.Errorf("exit data1: %w", err)
	}
	if hw.sensor, err = gpio.RequestInput(g.Chip, g.DoorSensor); err != nil {
		return nil, fmt.Errorf("door sensor: %w", err)
	}
	return hw, nil
}

func (hw *hardware) close() {
	for _, line := range []interface{ Close() error }{
		hw.entrySolenoid, hw.exitSolenoid,
		hw.entryD0, hw.entryD1, hw.exitD0, hw.exitD1, hw.sensor,
	} {
		if line != nil {
			_ = line.Close()
		}
	}
}

func createLogger(debug bool) *zerolog.Logger {
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	log.Logger = logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return &logger
}
