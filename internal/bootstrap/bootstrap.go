package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/store-app-detector/internal/config"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
	"github.com/kirillkom/store-app-detector/internal/core/usecase"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/detectionapi"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/queue/nats"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/resilience"
)

// App holds the wired pipeline. History and Queue are nil when POSTGRES_DSN or NATS_URL are unset.
type App struct {
	Config config.Config

	Detection *detectionapi.Client
	Detector  *usecase.DetectStoreUseCase
	Runs      *usecase.RunDetectionUseCase
	History   *postgres.RunRepository
	Queue     *nats.Queue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer ports.PhaseObserver) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	closers := make([]func(), 0, 2)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	client := NewDetectionClient(cfg, logger, observer)
	detector := usecase.NewDetectStoreUseCase(client, observer, logger)

	var (
		repo      ports.RunRepository
		history   *postgres.RunRepository
		publisher ports.ProgressPublisher
		requests  ports.RequestQueue
		queue     *nats.Queue
	)

	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		history = postgres.NewRunRepository(db)
		if err := history.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		repo = history
	} else {
		logger.Info("run_history_disabled", "reason", "POSTGRES_DSN is empty")
	}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		q, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
			Requests: cfg.NATSRequestSubject,
			Progress: cfg.NATSProgressSubject,
		}, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultPolicy(), logger),
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, q.Close)
		queue = q
		publisher = q
		requests = q
	} else {
		logger.Info("async_runs_disabled", "reason", "NATS_URL is empty")
	}

	runs := usecase.NewRunDetectionUseCase(detector, repo, publisher, requests, logger)

	return &App{
		Config: cfg,

		Detection: client,
		Detector:  detector,
		Runs:      runs,
		History:   history,
		Queue:     queue,

		closeFn: closeAll,
	}, nil
}

// NewDetectionClient builds the transport client with the breaker settings from cfg. When observer
// also tracks breakers, every per-phase breaker transition is reported to it.
func NewDetectionClient(cfg config.Config, logger *slog.Logger, observer ports.PhaseObserver) *detectionapi.Client {
	policy := resilience.DefaultPolicy()
	policy.BreakerEnabled = cfg.DetectionBreakerEnabled
	if cfg.DetectionBreakerMinRequest > 0 {
		policy.BreakerMinRequests = uint32(cfg.DetectionBreakerMinRequest)
	}
	policy.BreakerFailureRatio = cfg.DetectionBreakerFailRatio
	if cfg.DetectionBreakerOpenSecs > 0 {
		policy.BreakerOpenTimeout = time.Duration(cfg.DetectionBreakerOpenSecs) * time.Second
	}

	executor := resilience.NewExecutor(policy, logger)
	if breakers, ok := observer.(ports.BreakerObserver); ok {
		executor.WithStateListener(func(operation, _, to string) {
			if phase, ok := detectionapi.PhaseFromOperation(operation); ok {
				breakers.ObserveBreakerState(phase, to)
			}
		})
	}

	return detectionapi.NewWithOptions(detectionapi.Config{
		BaseURL: cfg.DetectionAPIURL,
		Timeout: time.Duration(cfg.DetectionTimeoutSeconds) * time.Second,
	}, detectionapi.Options{
		ResilienceExecutor: executor,
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
