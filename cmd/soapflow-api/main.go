// Package main provides the soapflow API service entry point.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api"
	"github.com/medscribe/soapflow/internal/api/handlers"
	"github.com/medscribe/soapflow/internal/api/middleware"
	"github.com/medscribe/soapflow/internal/config"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
	"github.com/medscribe/soapflow/internal/infrastructure/redpanda"
	"github.com/medscribe/soapflow/internal/llm"
	"github.com/medscribe/soapflow/internal/logging"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/internal/observability/tracing"
	"github.com/medscribe/soapflow/internal/service"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

const serviceName = "soapflow-api"

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
		logger.Fatal("service failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := tracing.Init(ctx, tracing.FromConfig(cfg, serviceName))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	breakerCfg := circuitbreaker.DefaultConfig("llm")
	breakerCfg.FailureThreshold = cfg.LLM.BreakerThreshold
	breakerCfg.Timeout = cfg.LLM.BreakerTimeout
	breakerCfg.OnStateChange = m.SetBreakerState
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		return fmt.Errorf("create circuit breaker: %w", err)
	}

	model := llm.New(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
	}, logger, llm.WithBreaker(breaker), llm.WithObserver(m.ObserveLLM))

	codes, err := service.NewCodeSuggester(
		postgres.NewCodeStore(pool, logger),
		model,
		service.SuggesterConfig{CacheSize: cfg.Codes.CacheSize, TopN: cfg.Codes.TopN},
		m, logger)
	if err != nil {
		return fmt.Errorf("create code suggester: %w", err)
	}

	policy := soapnote.Policy{BlockOnError: cfg.Validation.BlockOnError}
	notes := service.NewNoteService(service.NoteServiceConfig{
		Model:     model,
		Templates: template.Builtin(),
		Notes:     postgres.NewNoteStore(pool, redpanda.TopicNoteEvents, logger),
		Codes:     codes,
		Policy:    policy,
		Metrics:   m,
	}, logger)

	var verifier *middleware.TokenVerifier
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled", zap.String("header", middleware.DevUserHeader))
	} else {
		verifier = middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10_000)
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
	}

	handler := api.NewRouter(api.Deps{
		Service:    serviceName,
		Version:    cfg.App.Version,
		Notes:      notes,
		Codes:      codes,
		Compliance: postgres.NewComplianceStore(pool),
		Templates:  template.Builtin(),
		Policy:     policy,
		Verifier:   verifier,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
		Ready: map[string]handlers.Checker{
			"database": pool.Ping,
		},
		Breakers: []*circuitbreaker.CircuitBreaker{breaker},
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting soapflow API", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
