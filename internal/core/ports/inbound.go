package ports

import (
	"context"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

// StoreDetector is the inbound contract for the four-phase detection pipeline.
type StoreDetector interface {
	Detect(ctx context.Context, storeURL string, sink ProgressSink) (*domain.DetectionResult, error)
}

// DetectionRunner runs the pipeline with history tracking and progress fan-out.
type DetectionRunner interface {
	Run(ctx context.Context, storeURL string, sink ProgressSink) (*domain.DetectionRun, error)
	RunQueued(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionRun, error)
	Enqueue(ctx context.Context, storeURL string) (*domain.DetectionRun, error)
}

// DetectionRunReader is the read model for recorded runs.
type DetectionRunReader interface {
	GetRun(ctx context.Context, id string) (*domain.DetectionRun, error)
	ListRuns(ctx context.Context, storeURL string, limit int) ([]domain.DetectionRun, error)
}
