package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"thermowatch/internal/config"
	"thermowatch/internal/logger"
	"thermowatch/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	m, err := monitor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build monitor")
	}

	// wait for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Bool("polling", cfg.Telemetry.Enabled).
		Bool("kafka", cfg.Kafka.Enabled()).
		Int("subscribers", len(cfg.Subscribers)).
		Msg("thermowatch starting")

	if err := m.Run(ctx); err != nil {
		log.Error().Err(err).Msg("monitor exited with error")
		os.Exit(1)
	}
	log.Info().Msg("exited")
}
