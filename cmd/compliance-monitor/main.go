// Package main provides the compliance monitor entry point. It consumes note
// events and maintains per-clinician daily documentation counters.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api"
	"github.com/medscribe/soapflow/internal/api/handlers"
	"github.com/medscribe/soapflow/internal/compliance"
	"github.com/medscribe/soapflow/internal/config"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
	"github.com/medscribe/soapflow/internal/infrastructure/redpanda"
	"github.com/medscribe/soapflow/internal/logging"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/internal/observability/tracing"
	"github.com/medscribe/soapflow/pkg/idempotency"
	"github.com/medscribe/soapflow/pkg/workerpool"
)

const (
	serviceName     = "compliance-monitor"
	lagPollInterval = 30 * time.Second
)

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
		logger.Fatal("compliance monitor failed", zap.Error(err))
	}
	logger.Info("compliance monitor stopped")
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

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers.Count
	poolCfg.QueueSize = cfg.Workers.QueueSize

	monitor, err := compliance.NewMonitor(postgres.NewComplianceStore(pool), inbox, poolCfg, m, logger)
	if err != nil {
		return err
	}
	monitor.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.ClientID = cfg.Kafka.ClientID + "-" + serviceName
	consumerCfg.GroupID = cfg.Kafka.ConsumerGroup

	consumer, err := redpanda.NewConsumer(consumerCfg, monitor.HandleBatch, logger)
	if err != nil {
		monitor.Stop()
		return fmt.Errorf("create consumer: %w", err)
	}
	consumer.Start()
	logger.Info("consuming note events",
		zap.Strings("topics", consumerCfg.Topics),
		zap.String("group", consumerCfg.GroupID))

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Warn("lag reporting disabled", zap.Error(err))
	} else {
		defer admin.Close()
		go reportLag(ctx, admin, consumerCfg.GroupID, logger)
	}

	server := &http.Server{
		Addr: cfg.Server.Address(),
		Handler: api.NewOpsRouter(serviceName, cfg.App.Version, map[string]handlers.Checker{
			"database": pool.Ping,
			"workers":  monitor.Healthy,
			"broker": func(ctx context.Context) error {
				return redpanda.HealthCheck(ctx, cfg.Kafka.Brokers)
			},
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
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}

	// Consumer first so no batch is waiting on a stopped pool.
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop failed", zap.Error(err))
	}
	return monitor.Stop()
}

func reportLag(ctx context.Context, admin *redpanda.Admin, group string, logger *zap.Logger) {
	ticker := time.NewTicker(lagPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := admin.ConsumerGroupLag(ctx, group)
			if err != nil {
				logger.Warn("lag check failed", zap.Error(err))
				continue
			}
			for topic, n := range lag {
				logger.Info("consumer lag", zap.String("topic", topic), zap.Int64("lag", n))
			}
		}
	}
}
