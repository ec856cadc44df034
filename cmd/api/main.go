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

	httpadapter "github.com/kirillkom/store-app-detector/internal/adapters/http"
	"github.com/kirillkom/store-app-detector/internal/bootstrap"
	"github.com/kirillkom/store-app-detector/internal/config"
	"github.com/kirillkom/store-app-detector/internal/observability/logging"
	"github.com/kirillkom/store-app-detector/internal/observability/metrics"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger("detector-api", cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiMetrics := metrics.NewAPIMetrics("api")
	detectionMetrics := metrics.NewDetectionMetrics("api", apiMetrics.Registry())

	app, err := bootstrap.New(ctx, cfg, logger, detectionMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Runs, app.Runs, app.Detection, app.Detection).
		WithMetrics(apiMetrics).
		Handler()
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Detection runs and their SSE streams outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "detection_api_url", cfg.DetectionAPIURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
