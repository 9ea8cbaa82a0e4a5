// Package main provides the entry point for the outbox relay daemon. It polls
// the outbox table and publishes pending envelopes to Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/outbox"
	"github.com/helixir/outbox/internal/config"
	"github.com/helixir/outbox/internal/database"
	"github.com/helixir/outbox/internal/observability"
	"github.com/helixir/outbox/kafka"
	"github.com/helixir/outbox/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = observability.WithComponent(logger, "relay")
	logger.Info().Msg("outbox relay starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create the outbox store.
	store := postgres.NewStore(db, postgres.WithTableName(cfg.Database.TableName))

	// Create the Kafka publisher.
	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers:      cfg.Kafka.Brokers,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create kafka publisher: %w", err)
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close kafka publisher")
		}
	}()
	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Msg("kafka publisher created")

	// Create metrics if enabled.
	var metrics outbox.MetricsRecorder = outbox.NopMetrics{}
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("outbox")
	}

	// Create the dispatcher.
	dispatcherOpts := []outbox.DispatcherOption{
		outbox.WithPollInterval(cfg.Dispatcher.PollInterval),
		outbox.WithBatchSize(cfg.Dispatcher.BatchSize),
		outbox.WithPublishTimeout(cfg.Dispatcher.PublishTimeout),
		outbox.WithStorageTimeout(cfg.Dispatcher.StorageTimeout),
		outbox.WithDispatcherLogger(logger),
		outbox.WithDispatcherMetrics(metrics),
	}
	if cfg.Dispatcher.RateLimitRPS > 0 {
		dispatcherOpts = append(dispatcherOpts,
			outbox.WithPublishRateLimit(cfg.Dispatcher.RateLimitRPS, cfg.Dispatcher.RateLimitBurst))
	}
	dispatcher := outbox.NewDispatcher(store, publisher, dispatcherOpts...)

	// Set up Prometheus metrics handler if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			health := db.Health(r.Context())
			if health.Status != "healthy" {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintln(w, health.Status)
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 1)

	// Start the dispatcher.
	dispatcher.Start()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Dur("poll_interval", cfg.Dispatcher.PollInterval).
		Int("batch_size", cfg.Dispatcher.BatchSize)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("outbox relay is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down outbox relay")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the dispatcher; lets the in-flight cycle finish.
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher shutdown error")
	}

	// Shut down metrics server if running.
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("outbox relay shutdown complete")
	return nil
}
