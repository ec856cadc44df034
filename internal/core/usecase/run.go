package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
)

// RunDetectionUseCase wraps the pipeline with run ids, history and remote progress publishing.
// repo, publisher and queue are optional.
type RunDetectionUseCase struct {
	detector  ports.StoreDetector
	repo      ports.RunRepository
	publisher ports.ProgressPublisher
	queue     ports.RequestQueue
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunDetectionUseCase(
	detector ports.StoreDetector,
	repo ports.RunRepository,
	publisher ports.ProgressPublisher,
	queue ports.RequestQueue,
	logger *slog.Logger,
) *RunDetectionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunDetectionUseCase{
		detector:  detector,
		repo:      repo,
		publisher: publisher,
		queue:     queue,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *RunDetectionUseCase) Run(ctx context.Context, storeURL string, sink ports.ProgressSink) (*domain.DetectionRun, error) {
	run := &domain.DetectionRun{
		ID:        uuid.NewString(),
		StoreURL:  strings.TrimSpace(storeURL),
		Status:    domain.RunRunning,
		StartedAt: uc.now(),
	}
	if uc.repo != nil {
		if err := uc.repo.Create(ctx, run); err != nil {
			uc.logger.Warn("run_history_create_failed", "run_id", run.ID, "error", err)
		}
	}
	return uc.execute(ctx, run, sink)
}

// RunQueued executes a request previously accepted by Enqueue.
func (uc *RunDetectionUseCase) RunQueued(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionRun, error) {
	if strings.TrimSpace(req.RunID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run queued detection", errors.New("run id is required"))
	}
	run := &domain.DetectionRun{
		ID:        req.RunID,
		StoreURL:  strings.TrimSpace(req.StoreURL),
		Status:    domain.RunRunning,
		StartedAt: uc.now(),
	}
	if uc.repo != nil {
		err := uc.repo.MarkRunning(ctx, run.ID)
		if domain.IsKind(err, domain.ErrRunNotFound) {
			err = uc.repo.Create(ctx, run)
		}
		if err != nil {
			uc.logger.Warn("run_history_update_failed", "run_id", run.ID, "error", err)
		}
	}
	return uc.execute(ctx, run, nil)
}

// Enqueue accepts a detection for asynchronous execution by a worker.
func (uc *RunDetectionUseCase) Enqueue(ctx context.Context, storeURL string) (*domain.DetectionRun, error) {
	if uc.queue == nil {
		return nil, domain.WrapError(domain.ErrNotConfigured, "enqueue detection", errors.New("request queue is disabled"))
	}
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue detection", errors.New("store url is required"))
	}

	run := &domain.DetectionRun{
		ID:        uuid.NewString(),
		StoreURL:  storeURL,
		Status:    domain.RunQueued,
		StartedAt: uc.now(),
	}
	if uc.repo != nil {
		if err := uc.repo.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("record queued run: %w", err)
		}
	}
	req := domain.DetectionRequest{RunID: run.ID, StoreURL: storeURL, RequestedAt: run.StartedAt}
	if err := uc.queue.PublishDetectionRequested(ctx, req); err != nil {
		return nil, fmt.Errorf("publish detection request: %w", err)
	}
	return run, nil
}

func (uc *RunDetectionUseCase) GetRun(ctx context.Context, id string) (*domain.DetectionRun, error) {
	if uc.repo == nil {
		return nil, domain.WrapError(domain.ErrNotConfigured, "get run", errors.New("run history is disabled"))
	}
	run, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs recorded for a store, newest first.
func (uc *RunDetectionUseCase) ListRuns(ctx context.Context, storeURL string, limit int) ([]domain.DetectionRun, error) {
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list runs", errors.New("store url is required"))
	}
	if uc.repo == nil {
		return nil, domain.WrapError(domain.ErrNotConfigured, "list runs", errors.New("run history is disabled"))
	}
	runs, err := uc.repo.ListByStore(ctx, storeURL, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", storeURL, err)
	}
	return runs, nil
}

func (uc *RunDetectionUseCase) execute(ctx context.Context, run *domain.DetectionRun, sink ports.ProgressSink) (*domain.DetectionRun, error) {
	tracker := &stepTracker{}
	sinks := fanOutSink{
		sinks:  []ports.ProgressSink{tracker, sink, uc.publisherSink(ctx, run.ID)},
		logger: uc.logger,
	}

	result, err := uc.detector.Detect(ctx, run.StoreURL, sinks)
	finishedAt := uc.now()
	run.FinishedAt = &finishedAt
	run.LastStep = tracker.step
	run.AppsFound = tracker.appsFound

	// History writes must land even if the caller went away mid-run.
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		run.Status = domain.RunFailed
		run.ErrorKind = domain.KindName(err)
		run.ErrorMessage = domain.UserMessage(err)
		if uc.repo != nil {
			if repoErr := uc.repo.MarkFailed(persistCtx, run.ID, run.LastStep, run.ErrorKind, run.ErrorMessage, finishedAt); repoErr != nil {
				uc.logger.Warn("run_history_update_failed", "run_id", run.ID, "error", repoErr)
			}
		}
		return run, err
	}

	run.Status = domain.RunComplete
	run.Result = result
	run.AppsFound = len(result.DetectedApps)
	if uc.repo != nil {
		if repoErr := uc.repo.MarkComplete(persistCtx, run.ID, result, finishedAt); repoErr != nil {
			uc.logger.Warn("run_history_update_failed", "run_id", run.ID, "error", repoErr)
		}
	}
	return run, nil
}

func (uc *RunDetectionUseCase) publisherSink(ctx context.Context, runID string) ports.ProgressSink {
	if uc.publisher == nil {
		return nil
	}
	return ports.ProgressFunc(func(event domain.ProgressEvent) {
		publishCtx := ctx
		if event.Terminal() {
			// Remote followers must learn the outcome even when the caller is gone.
			publishCtx = context.WithoutCancel(ctx)
		}
		if err := uc.publisher.PublishProgress(publishCtx, runID, event); err != nil {
			uc.logger.Warn("progress_publish_failed", "run_id", runID, "event", string(event.Type), "error", err)
		}
	})
}

type stepTracker struct {
	step      domain.Step
	appsFound int
}

func (t *stepTracker) Report(event domain.ProgressEvent) {
	if event.Type != domain.EventProgress {
		return
	}
	t.step = event.Step
	if event.AppsFound != nil {
		t.appsFound = *event.AppsFound
	}
}
