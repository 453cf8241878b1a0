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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odontosorriso/scheduling-agent/cmd/mainconfig"
	"github.com/odontosorriso/scheduling-agent/internal/api/router"
	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	"github.com/odontosorriso/scheduling-agent/internal/http/handlers"
	"github.com/odontosorriso/scheduling-agent/internal/observability/metrics"
	"github.com/odontosorriso/scheduling-agent/internal/worker"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

const (
	webhookRatePerSecond = 10
	webhookBurst         = 30
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling-agent API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, schedMetrics := setupMetrics()

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger, awsCfg, schedMetrics)
	if err != nil {
		logger.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	queue, err := bootstrap.BuildQueue(rt)
	if err != nil {
		logger.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}

	var inline *worker.Worker
	if cfg.UseMemoryQueue {
		inline, err = startInlineWorker(ctx, rt, queue)
		if err != nil {
			logger.Error("failed to start inline worker", "error", err)
			os.Exit(1)
		}
	}

	routerCfg := &router.Config{
		Logger: logger,
		Webhook: handlers.NewWhatsAppWebhookHandler(
			bootstrap.BuildIdempotencyStore(rt),
			worker.NewPublisher(queue, logger),
			schedMetrics,
			logger,
		),
		AdminAuthSecret:      cfg.AdminJWTSecret,
		MetricsHandler:       metricsHandler,
		HealthChecks:         healthChecks(rt),
		WebhookRatePerSecond: webhookRatePerSecond,
		WebhookBurst:         webhookBurst,
	}
	if state, err := bootstrap.BuildStateManager(rt); err != nil {
		logger.Warn("admin conversation routes disabled", "error", err)
	} else {
		routerCfg.AdminConversations = handlers.NewAdminConversationsHandler(state, logger)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if inline != nil {
		waitForWorker(shutdownCtx, inline, logger)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewSchedulingMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), m
}

// startInlineWorker runs the agent inside the API process, consuming the
// in-memory queue the webhook publishes to.
func startInlineWorker(ctx context.Context, rt *bootstrap.Runtime, queue worker.Queue) (*worker.Worker, error) {
	sender, err := bootstrap.BuildSender(rt)
	if err != nil {
		return nil, err
	}
	agent, err := bootstrap.BuildAgent(ctx, rt)
	if err != nil {
		return nil, err
	}
	dlq := bootstrap.BuildDeadLetters(rt)
	w := bootstrap.BuildWorker(rt, agent, queue, sender, dlq)
	w.Start(ctx)
	bootstrap.StartReplayer(ctx, rt, dlq, sender)
	rt.Logger.Info("inline conversation worker started", "workers", rt.Config.WorkerCount)
	return w, nil
}

func waitForWorker(ctx context.Context, w *worker.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline worker stopped")
	case <-ctx.Done():
		logger.Error("inline worker shutdown timed out", "error", ctx.Err())
	}
}

func healthChecks(rt *bootstrap.Runtime) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	if rt.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return rt.Pool.Ping(ctx) }
	}
	return checks
}
