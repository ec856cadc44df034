package ports

import (
	"context"
	"time"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

// DetectionService is the remote service that performs each pipeline phase.
type DetectionService interface {
	Start(ctx context.Context, storeURL string) (domain.StartResult, error)
	ExtractAnalyze(ctx context.Context, req domain.ExtractAnalyzeRequest) (domain.ExtractAnalyzeResult, error)
	Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error)
	Finalize(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResult, error)
}

// SingleShotDetector bypasses the phased flow.
type SingleShotDetector interface {
	DetectApps(ctx context.Context, storeURL string) (*domain.DetectionResult, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// ProgressSink receives progress events of one run.
type ProgressSink interface {
	Report(event domain.ProgressEvent)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(event domain.ProgressEvent)

func (f ProgressFunc) Report(event domain.ProgressEvent) { f(event) }

// PhaseObserver receives timing of every phase call.
type PhaseObserver interface {
	ObservePhase(phase domain.Phase, duration time.Duration, err error)
	ObserveRun(result *domain.DetectionResult, duration time.Duration, err error)
}

// BreakerObserver is optionally implemented by a PhaseObserver that tracks the circuit breaker
// guarding each phase.
type BreakerObserver interface {
	ObserveBreakerState(phase domain.Phase, state string)
}

// RunRepository persists run history.
type RunRepository interface {
	Create(ctx context.Context, run *domain.DetectionRun) error
	MarkRunning(ctx context.Context, id string) error
	MarkComplete(ctx context.Context, id string, result *domain.DetectionResult, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id string, step domain.Step, errorKind, errorMessage string, finishedAt time.Time) error
	GetByID(ctx context.Context, id string) (*domain.DetectionRun, error)
	ListByStore(ctx context.Context, storeURL string, limit int) ([]domain.DetectionRun, error)
}

// ProgressPublisher broadcasts progress of a run to remote listeners.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, runID string, event domain.ProgressEvent) error
}

// RequestQueue publishes/consumes asynchronous detection requests.
type RequestQueue interface {
	PublishDetectionRequested(ctx context.Context, req domain.DetectionRequest) error
	SubscribeDetectionRequested(ctx context.Context, handler func(context.Context, domain.DetectionRequest) error) error
}
