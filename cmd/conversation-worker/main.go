package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odontosorriso/scheduling-agent/cmd/mainconfig"
	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	"github.com/odontosorriso/scheduling-agent/internal/observability/metrics"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	cfg.UseMemoryQueue = false
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	rt, err := bootstrap.NewRuntime(ctx, cfg, logger, awsConfig, metrics.NewSchedulingMetrics(registry))
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
	sender, err := bootstrap.BuildSender(rt)
	if err != nil {
		logger.Error("failed to initialize whatsapp sender", "error", err)
		os.Exit(1)
	}
	agent, err := bootstrap.BuildAgent(ctx, rt)
	if err != nil {
		logger.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	dlq := bootstrap.BuildDeadLetters(rt)
	w := bootstrap.BuildWorker(rt, agent, queue, sender, dlq)
	w.Start(ctx)
	bootstrap.StartReplayer(ctx, rt, dlq, sender)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount, "queue", cfg.ConversationQueueURL)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		w.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
