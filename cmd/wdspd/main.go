package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/joho/godotenv"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/wdsp/pkg/config"
	"github.com/norasector/wdsp/pkg/control"
	"github.com/norasector/wdsp/pkg/device"
	"github.com/norasector/wdsp/pkg/dsp/viz"
	"github.com/norasector/wdsp/pkg/metrics"
	"github.com/norasector/wdsp/pkg/output"
	"github.com/norasector/wdsp/pkg/wdsp"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildOutputs(cfg *config.Config, writeAPI api.WriteAPI) ([]output.Output, func(), error) {
	var (
		outputs []output.Output
		files   []*os.File
	)
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for _, raw := range cfg.Outputs.Raw {
		var dest io.Writer = os.Stdout
		if raw.Path != "-" && raw.Path != "" {
			f, err := os.Create(raw.Path)
			if err != nil {
				closeFiles()
				return nil, nil, err
			}
			files = append(files, f)
			dest = f
		}
		outputs = append(outputs, output.NewRawOutput(dest, raw.Channels))
	}
	if udp := cfg.Outputs.UDP; udp != nil {
		outputs = append(outputs, output.NewTaggedOpusFrameUDPOutput(udp.Destinations, udp.SampleRate, udp.Channels, writeAPI))
	}
	if sp := cfg.Outputs.Speaker; sp != nil {
		outputs = append(outputs, output.NewSpeakerOutput(sp.Channel, sp.SampleRate, sp.FramesPerBuffer))
	}
	return outputs, closeFiles, nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("error reading .env")
	}

	configFile := flag.String("config", envOr("WDSPD_CONFIG", "wdspd.yaml"), "YAML config file")
	wisdomDir := flag.String("wisdom", "", "prepare FFT wisdom in this directory and exit")
	flag.Parse()

	if *wisdomDir != "" {
		if err := wdsp.Wisdom(*wisdomDir); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare wisdom")
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading config file")
	}
	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid log level")
		}
		log.Logger = log.Logger.Level(level)
	}

	if cfg.WisdomDir != "" {
		if err := wdsp.Wisdom(cfg.WisdomDir); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare wisdom")
		}
	}

	if cfg.InfluxDB.Token == "" {
		cfg.InfluxDB.Token = os.Getenv("INFLUXDB_TOKEN")
	}
	writeAPI, closeMetrics := metrics.Connect(cfg.InfluxDB)
	defer closeMetrics()

	var vizServer *viz.Server
	if cfg.VizServer.Enabled {
		vizServer = viz.NewServer(cfg.VizServer.Port, cfg.VizServer.UpdateInterval)
	}

	manager, err := wdsp.NewManager(
		wdsp.WithLogger(log.Logger),
		wdsp.WithInfluxDB(writeAPI),
		wdsp.WithVizServer(vizServer),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create channel manager")
	}
	defer manager.CloseAll()

	eg, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := applyChannels(ctx, manager, &config.Config{}, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to open channels")
	}

	log.Info().Str("device", cfg.Device.Type).Msg("initializing device...")
	dev, err := device.Open(cfg.Device)
	if err != nil {
		log.Fatal().Str("device", cfg.Device.Type).Err(err).Msg("failed to initialize device")
	}

	outputs, closeFiles, err := buildOutputs(cfg, writeAPI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outputs")
	}
	defer closeFiles()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	segments := make(chan *types.SegmentComplex64, 1)
	eg.Go(func() error {
		err := dev.Start(ctx, cfg.Device.CenterFreq, cfg.Device.SampleRate, segments)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		return dev.Stop()
	})

	r := newRouter(manager, cfg.StationID, outputs, log.Logger)
	eg.Go(func() error {
		return r.run(ctx, segments)
	})

	for _, o := range outputs {
		o := o
		eg.Go(func() error {
			return o.Start(ctx)
		})
	}

	if vizServer != nil {
		eg.Go(func() error {
			return vizServer.Run(ctx)
		})
	}

	controlServer := control.NewServer(cfg.Control.Addr, manager, control.WithLogger(log.Logger))
	eg.Go(func() error {
		return controlServer.Run(ctx)
	})

	rl := &reloader{path: *configFile, manager: manager, logger: log.Logger, current: cfg}
	eg.Go(func() error {
		return rl.watch(ctx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		log.Fatal().Err(err).Msg("exited program")
	}
}
