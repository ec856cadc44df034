package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
)

// DetectStoreUseCase sequences the start, extract-analyze, search and finalize phases against the
// remote detection service. Phases run strictly one after another and the first failure aborts
// the run.
type DetectStoreUseCase struct {
	service  ports.DetectionService
	observer ports.PhaseObserver
	logger   *slog.Logger
}

func NewDetectStoreUseCase(
	service ports.DetectionService,
	observer ports.PhaseObserver,
	logger *slog.Logger,
) *DetectStoreUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectStoreUseCase{
		service:  service,
		observer: observer,
		logger:   logger,
	}
}

// session is the state minted by the start phase and threaded through the later phases. It
// belongs to exactly one Detect call.
type session struct {
	id       domain.SessionID
	storeURL string
	theme    *domain.Theme
}

func (uc *DetectStoreUseCase) Detect(ctx context.Context, storeURL string, sink ports.ProgressSink) (*domain.DetectionResult, error) {
	started := time.Now()
	reporter := newProgressReporter(sink, uc.logger)
	machine := newPipelineMachine()

	result, err := uc.runPipeline(ctx, strings.TrimSpace(storeURL), reporter, machine)
	if uc.observer != nil {
		uc.observer.ObserveRun(result, time.Since(started), err)
	}
	if err != nil {
		failedIn := machine.state
		machine.fail()
		reporter.fail(err)
		uc.logger.Warn("detection_failed",
			"store_url", storeURL,
			"state", string(failedIn),
			"error_kind", domain.KindName(err),
			"error", err,
		)
		return nil, err
	}

	reporter.complete(result)
	uc.logger.Info("detection_complete",
		"store_url", result.StoreURL,
		"detected_apps", len(result.DetectedApps),
		"unmatched_apps", result.UnmatchedCount(),
		"duration_ms", float64(time.Since(started).Microseconds())/1000.0,
	)
	return result, nil
}

// Stream runs the pipeline in the background and yields its progress events. The channel is
// closed after the terminal event; a new run needs a new call.
func (uc *DetectStoreUseCase) Stream(ctx context.Context, storeURL string) <-chan domain.ProgressEvent {
	events := make(chan domain.ProgressEvent, maxEventsPerRun)
	go func() {
		defer close(events)
		_, _ = uc.Detect(ctx, storeURL, ports.ProgressFunc(func(event domain.ProgressEvent) {
			events <- event
		}))
	}()
	return events
}

func (uc *DetectStoreUseCase) runPipeline(
	ctx context.Context,
	storeURL string,
	reporter *progressReporter,
	machine *pipelineMachine,
) (*domain.DetectionResult, error) {
	if storeURL == "" {
		return nil, &domain.PhaseError{
			Phase:   domain.PhaseStart,
			Kind:    domain.ErrClientRequest,
			Message: "Store URL is required.",
		}
	}

	if err := machine.advance(stateValidating); err != nil {
		return nil, err
	}
	reporter.progress(domain.StepValidating, "Validating Shopify store...")
	sess, err := uc.start(ctx, storeURL)
	if err != nil {
		return nil, err
	}

	if err := machine.advance(stateExtracting); err != nil {
		return nil, err
	}
	reporter.progress(domain.StepExtracting, "Scraping store content and analyzing it with AI...")
	extracted, err := uc.extractAnalyze(ctx, sess)
	if err != nil {
		return nil, err
	}
	reporter.progressWithCount(
		domain.StepExtracting,
		fmt.Sprintf("Found %d potential apps", extracted.AppsFound),
		extracted.AppsFound,
	)

	if err := machine.advance(stateSearching); err != nil {
		return nil, err
	}
	reporter.progress(domain.StepSearching, "Searching the app catalog for details...")
	enriched, err := uc.search(ctx, sess, extracted.DetectedApps)
	if err != nil {
		return nil, err
	}

	if err := machine.advance(stateFinalizing); err != nil {
		return nil, err
	}
	reporter.progress(domain.StepFinalizing, "Finalizing results...")
	result, err := uc.finalize(ctx, sess, enriched.DetectedApps)
	if err != nil {
		return nil, err
	}

	if err := machine.advance(stateComplete); err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *DetectStoreUseCase) start(ctx context.Context, storeURL string) (session, error) {
	started := time.Now()
	res, err := uc.service.Start(ctx, storeURL)
	uc.observe(domain.PhaseStart, started, err)
	if err != nil {
		return session{}, phaseFailure(domain.PhaseStart, err)
	}
	if strings.TrimSpace(res.SessionID.String()) == "" {
		return session{}, contractViolation(domain.PhaseStart, errors.New("response has no session id"))
	}
	if !res.StoreInfo.IsShopify {
		message := strings.TrimSpace(res.StoreInfo.Error)
		if message == "" {
			message = "The URL does not belong to a Shopify store."
		}
		return session{}, &domain.PhaseError{
			Phase:   domain.PhaseStart,
			Kind:    domain.ErrClientRequest,
			Message: message,
		}
	}

	sess := session{
		id:       res.SessionID,
		storeURL: storeURL,
		theme:    res.StoreInfo.Theme,
	}
	if resolved := strings.TrimSpace(res.StoreInfo.URL); resolved != "" {
		sess.storeURL = resolved
	}
	return sess, nil
}

func (uc *DetectStoreUseCase) extractAnalyze(ctx context.Context, sess session) (domain.ExtractAnalyzeResult, error) {
	started := time.Now()
	res, err := uc.service.ExtractAnalyze(ctx, domain.ExtractAnalyzeRequest{
		SessionID: sess.id,
		StoreURL:  sess.storeURL,
		Theme:     sess.theme,
	})
	uc.observe(domain.PhaseExtractAnalyze, started, err)
	if err != nil {
		return domain.ExtractAnalyzeResult{}, phaseFailure(domain.PhaseExtractAnalyze, err)
	}
	if err := domain.ValidateDetectedApps(res.DetectedApps); err != nil {
		return domain.ExtractAnalyzeResult{}, contractViolation(domain.PhaseExtractAnalyze, err)
	}
	if res.DetectedApps == nil {
		res.DetectedApps = []domain.DetectedApp{}
	}
	return res, nil
}

func (uc *DetectStoreUseCase) search(ctx context.Context, sess session, detected []domain.DetectedApp) (domain.SearchResult, error) {
	started := time.Now()
	res, err := uc.service.Search(ctx, domain.SearchRequest{
		SessionID:    sess.id,
		DetectedApps: detected,
	})
	uc.observe(domain.PhaseSearch, started, err)
	if err != nil {
		return domain.SearchResult{}, phaseFailure(domain.PhaseSearch, err)
	}
	if err := domain.ValidateDetectedApps(res.DetectedApps); err != nil {
		return domain.SearchResult{}, contractViolation(domain.PhaseSearch, err)
	}
	if res.DetectedApps == nil {
		res.DetectedApps = []domain.DetectedApp{}
	}
	return res, nil
}

func (uc *DetectStoreUseCase) finalize(ctx context.Context, sess session, enriched []domain.DetectedApp) (*domain.DetectionResult, error) {
	started := time.Now()
	res, err := uc.service.Finalize(ctx, domain.FinalizeRequest{
		SessionID:    sess.id,
		StoreURL:     sess.storeURL,
		DetectedApps: enriched,
		Theme:        sess.theme,
	})
	uc.observe(domain.PhaseFinalize, started, err)
	if err != nil {
		return nil, phaseFailure(domain.PhaseFinalize, err)
	}
	if !res.IsComplete || res.DetectionResult == nil {
		return nil, contractViolation(domain.PhaseFinalize, errors.New("detection result is not complete"))
	}
	if err := domain.ValidateDetectedApps(res.DetectionResult.DetectedApps); err != nil {
		return nil, contractViolation(domain.PhaseFinalize, err)
	}
	return res.DetectionResult, nil
}

func (uc *DetectStoreUseCase) observe(phase domain.Phase, started time.Time, err error) {
	if uc.observer != nil {
		uc.observer.ObservePhase(phase, time.Since(started), err)
	}
}

func phaseFailure(phase domain.Phase, err error) error {
	var phaseErr *domain.PhaseError
	if errors.As(err, &phaseErr) {
		return err
	}
	return fmt.Errorf("detection %s: %w", phase, err)
}

func contractViolation(phase domain.Phase, err error) error {
	return &domain.PhaseError{
		Phase: phase,
		Kind:  domain.ErrServer,
		Err:   fmt.Errorf("unexpected %s response: %w", phase, err),
	}
}
