package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/store-app-detector/internal/bootstrap"
	"github.com/kirillkom/store-app-detector/internal/config"
	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/observability/logging"
	"github.com/kirillkom/store-app-detector/internal/observability/metrics"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger("detector-worker", cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	detectionMetrics := metrics.NewDetectionMetrics("worker", workerMetrics.Registry())

	app, err := bootstrap.New(ctx, cfg, logger, detectionMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	if app.Queue == nil {
		logger.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Four phases, each bounded by the client timeout.
	runTimeout := 4*time.Duration(cfg.DetectionTimeoutSeconds)*time.Second + 30*time.Second

	logger.Info("worker_subscribed", "subject", cfg.NATSRequestSubject)
	err = app.Queue.SubscribeDetectionRequested(ctx, func(handlerCtx context.Context, req domain.DetectionRequest) error {
		if !req.RequestedAt.IsZero() {
			workerMetrics.ObserveQueueLag("worker", time.Since(req.RequestedAt))
		}
		workerMetrics.StartRun()
		started := time.Now()

		runCtx, cancel := context.WithTimeout(handlerCtx, runTimeout)
		defer cancel()
		_, err := app.Runs.RunQueued(runCtx, req)
		workerMetrics.FinishRun("worker", time.Since(started), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_error", "error", err)
		os.Exit(1)
	}
}
