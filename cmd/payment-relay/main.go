package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/zoff-tech/payment-relay/pkg/config"
	"github.com/zoff-tech/payment-relay/pkg/logging"
	"github.com/zoff-tech/payment-relay/pkg/metrics"
	"github.com/zoff-tech/payment-relay/pkg/processor"
	"github.com/zoff-tech/payment-relay/pkg/server"
	"github.com/zoff-tech/payment-relay/pkg/store"
	"github.com/zoff-tech/payment-relay/pkg/telemetry"
	"github.com/zoff-tech/payment-relay/pkg/transport"
)

func main() {
	configDir := pflag.String("config-dir", "./cmd/payment-relay", "directory holding relay.yaml")
	pflag.String("log-level", "", "override log.level (debug, info, warn, error)")
	pflag.String("destination", "", "override relay.destination")
	pflag.Parse()

	if err := config.BindFlags(pflag.CommandLine); err != nil {
		slog.Error("failed to bind flags", "error", err)
		os.Exit(1)
	}

	// Load configuration from file and environment
	cfg, err := config.LoadFromFile(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Observability)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	runErr := run(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}

	if runErr != nil {
		logger.Error("payment relay stopped with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("payment relay stopped")
}

func run(cfg *config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize the payment store
	backend, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	repo := store.NewBreakerRepository(backend, logger)
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.Warn("failed to close payment store", "error", err)
		}
	}()

	// Initialize the messaging transport
	tr, err := transport.NewTransport(ctx, &cfg.Transport, logger)
	if err != nil {
		return err
	}

	relay, err := processor.NewRelayProcessor(tr, repo, cfg.Relay, logger, processor.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Warn("failed to close transport session", "error", err)
		}
	}()

	ops := server.New(cfg.Observability.MetricsAddr, relay, registry, logger)
	opsDone := make(chan error, 1)
	go func() { opsDone <- ops.Run(ctx) }()

	if err := relay.Start(ctx); err != nil {
		stop()
		<-opsDone
		return startupError(logger, err)
	}
	logger.Info("payment relay started",
		"transport", cfg.Transport.Type,
		"store", cfg.Database.Type,
		"destination", cfg.Relay.Destination,
	)

	// Run blocks until SIGINT or SIGTERM
	if err := relay.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown signal received")

	if err := <-opsDone; err != nil {
		logger.Warn("ops server stopped with error", "error", err)
	}
	return nil
}

// startupError treats a shutdown requested while the session was still
// connecting as a clean exit.
func startupError(logger *slog.Logger, err error) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown requested during startup")
		return nil
	}
	return err
}
