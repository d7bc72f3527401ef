// Package main provides the outbox relay service entry point. It publishes
// note events committed to the outbox table to Redpanda.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api"
	"github.com/medscribe/soapflow/internal/api/handlers"
	"github.com/medscribe/soapflow/internal/config"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
	"github.com/medscribe/soapflow/internal/infrastructure/redpanda"
	"github.com/medscribe/soapflow/internal/logging"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	flags := config.FlagSet(serviceName)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("outbox relay failed", zap.Error(err))
	}
	logger.Info("outbox relay stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := tracing.Init(ctx, tracing.FromConfig(cfg, serviceName))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Kafka.EnsureTopics {
		admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
		if err != nil {
			return err
		}
		err = admin.EnsureTopics(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor)
		admin.Close()
		if err != nil {
			return fmt.Errorf("ensure topics: %w", err)
		}
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producerCfg.ClientID = cfg.Kafka.ClientID + "-" + serviceName

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	outbox := postgres.NewOutbox(pool, producer, postgres.OutboxConfig{
		BatchSize:       cfg.Outbox.BatchSize,
		PollInterval:    cfg.Outbox.PollInterval,
		MaxRetries:      cfg.Outbox.MaxRetries,
		CleanupAfter:    cfg.Outbox.CleanupAfter,
		CleanupInterval: cfg.Outbox.CleanupInterval,
	}, m, logger)
	outbox.Start()
	defer outbox.Stop()

	server := &http.Server{
		Addr: cfg.Server.Address(),
		Handler: api.NewOpsRouter(serviceName, cfg.App.Version, map[string]handlers.Checker{
			"database": pool.Ping,
			"broker":   producer.Ping,
		}, reg),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
