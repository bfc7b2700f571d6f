package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/geyser/admin"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/plugin"
	_ "github.com/maxpert/geyser/publisher/sink"
	"github.com/maxpert/geyser/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var eventsFlag = flag.String("events", "", "JSON lines of recorded callbacks to replay (- for stdin)")

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
		Str("client_id", cfg.Config.ClientID).
		Str("cluster", cfg.Config.Cluster).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Int("environments", len(cfg.Config.Environments)).Msg("Geyser event publisher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	p, err := plugin.New(cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load plugin")
		return
	}

	var server *admin.Server
	if cfg.Config.Prometheus.Enabled {
		server, err = admin.Start(p)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *eventsFlag != "" {
		if err := replay(ctx, p, *eventsFlag); err != nil {
			log.Error().Err(err).Msg("Replay failed")
		}
	}

	log.Info().
		Bool("accounts", p.AccountDataNotificationsEnabled()).
		Bool("transactions", p.TransactionNotificationsEnabled()).
		Msg("Waiting for shutdown signal")
	<-ctx.Done()

	shutdown(p, server)
}

func replay(ctx context.Context, p *plugin.Plugin, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	start := time.Now()
	stats, err := p.Replay(ctx, r)
	log.Info().
		Int("records", stats.Records).
		Int("failed", stats.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Replay finished")
	return err
}

func shutdown(p *plugin.Plugin, server *admin.Server) {
	log.Info().Msg("Shutting down")

	if err := p.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close publishers")
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
}
