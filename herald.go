package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/alert"
	"github.com/herald-io/herald/cfg"
	"github.com/herald-io/herald/directory"
	"github.com/herald-io/herald/dispatch"
	"github.com/herald-io/herald/feed"
	"github.com/herald-io/herald/intake"
	"github.com/herald-io/herald/rules"
	"github.com/herald-io/herald/server"
	"github.com/herald-io/herald/socket"
	"github.com/herald-io/herald/store"
	"github.com/herald-io/herald/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("process_id", cfg.Config.ProcessID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Herald - Realtime Notification Dispatch")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Storage and directory
	st, err := store.Open(cfg.Config.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
		return
	}
	defer st.Close()

	dir := directory.New(st,
		cfg.Config.Directory.MaxEntries,
		time.Duration(cfg.Config.Directory.TTLSeconds)*time.Second)

	// Alert composer with optional locale packs
	composer := alert.NewComposer()
	if err := composer.LoadLocales(cfg.Config.PhrasesDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to load locale phrase packs")
		return
	}

	// Dispatch pipeline
	sockets := socket.NewRegistry(cfg.Config.Dispatch.CompressionLimit)
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Sockets: sockets,
		Pruner:  st,
		Address: cfg.Config.Address,
		Retry: dispatch.RetryPolicy{
			MaxAttempts:    cfg.Config.Dispatch.MaxAttempts,
			BaseDelay:      time.Duration(cfg.Config.Dispatch.BaseDelayMS) * time.Millisecond,
			Multiplier:     2.0,
			RateLimitDelay: time.Duration(cfg.Config.Dispatch.RateLimitDelayS) * time.Second,
		},
		Client: &http.Client{
			Timeout: time.Duration(cfg.Config.Dispatch.RequestTimeoutS) * time.Second,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dispatcher")
		return
	}

	// Intake pipeline
	pipeline, err := intake.New(intake.Config{
		Directory:              dir,
		Store:                  st,
		Generator:              rules.NewGenerator(dir, st, st),
		Composer:               composer,
		Dispatcher:             dispatcher,
		Address:                cfg.Config.Address,
		RetentionSweepInterval: time.Duration(cfg.Config.Retention.SweepIntervalS) * time.Second,
		RetentionMaxAge:        time.Duration(cfg.Config.Retention.MaxAgeDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create intake pipeline")
		return
	}
	pipeline.StartRetentionSweep()
	defer pipeline.StopRetentionSweep()

	// Shared HTTP/socket listener
	srv, err := server.New(server.Config{
		BindAddress: cfg.Config.Listen.BindAddress,
		Port:        cfg.Config.Listen.Port,
		Sockets:     sockets,
		Signer:      dispatcher,
		Metrics:     cfg.Config.Prometheus.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
		return
	}
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
		return
	}
	defer srv.Stop()

	// Change feed
	source, err := feed.NewSource(cfg.Config.Feed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect feed source")
		return
	}
	defer source.Close()

	filter, err := feed.NewGlobFilter(cfg.Config.Feed.Tables)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid feed table patterns")
		return
	}

	batcher := feed.NewBatcher(source, filter,
		time.Duration(cfg.Config.Feed.BatchWindowMS)*time.Millisecond,
		cfg.Config.Feed.MaxBatchSize,
		pipeline.Handle)
	batcher.Start()
	defer batcher.Stop()

	log.Info().
		Str("feed", cfg.Config.Feed.Source).
		Int("port", cfg.Config.Listen.Port).
		Str("storage", cfg.Config.Storage.Path).
		Msg("Herald is operational")

	// In-flight push retries are abandoned on shutdown; the relay owns
	// redelivery after this point.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
