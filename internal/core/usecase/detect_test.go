package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
)

type detectionServiceFake struct {
	sessions []domain.SessionID
	storeURL string
	theme    *domain.Theme

	extracted []domain.DetectedApp
	appsFound int
	enriched  []domain.DetectedApp
	final     *domain.DetectionResult
	complete  bool
	isShopify *bool

	startErr    error
	extractErr  error
	searchErr   error
	finalizeErr error

	startCalls    []string
	extractCalls  []domain.ExtractAnalyzeRequest
	searchCalls   []domain.SearchRequest
	finalizeCalls []domain.FinalizeRequest
}

func (f *detectionServiceFake) Start(_ context.Context, storeURL string) (domain.StartResult, error) {
	f.startCalls = append(f.startCalls, storeURL)
	if f.startErr != nil {
		return domain.StartResult{}, f.startErr
	}
	id := domain.SessionID(fmt.Sprintf("session-%d", len(f.startCalls)))
	if len(f.sessions) >= len(f.startCalls) {
		id = f.sessions[len(f.startCalls)-1]
	}
	isShopify := true
	if f.isShopify != nil {
		isShopify = *f.isShopify
	}
	return domain.StartResult{
		SessionID: id,
		StoreInfo: domain.StoreInfo{URL: f.storeURL, IsShopify: isShopify, Theme: f.theme},
	}, nil
}

func (f *detectionServiceFake) ExtractAnalyze(_ context.Context, req domain.ExtractAnalyzeRequest) (domain.ExtractAnalyzeResult, error) {
	f.extractCalls = append(f.extractCalls, req)
	if f.extractErr != nil {
		return domain.ExtractAnalyzeResult{}, f.extractErr
	}
	return domain.ExtractAnalyzeResult{DetectedApps: f.extracted, AppsFound: f.appsFound}, nil
}

func (f *detectionServiceFake) Search(_ context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	f.searchCalls = append(f.searchCalls, req)
	if f.searchErr != nil {
		return domain.SearchResult{}, f.searchErr
	}
	return domain.SearchResult{DetectedApps: f.enriched, AppsWithDetails: len(f.enriched)}, nil
}

func (f *detectionServiceFake) Finalize(_ context.Context, req domain.FinalizeRequest) (domain.FinalizeResult, error) {
	f.finalizeCalls = append(f.finalizeCalls, req)
	if f.finalizeErr != nil {
		return domain.FinalizeResult{}, f.finalizeErr
	}
	return domain.FinalizeResult{DetectionResult: f.final, IsComplete: f.complete}, nil
}

type recordingSink struct {
	events []domain.ProgressEvent
}

func (s *recordingSink) Report(event domain.ProgressEvent) {
	s.events = append(s.events, event)
}

func (s *recordingSink) count(eventType domain.ProgressEventType) int {
	n := 0
	for _, event := range s.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

type observerFake struct {
	phases []domain.Phase
	runs   int
	runErr error
}

func (o *observerFake) ObservePhase(phase domain.Phase, _ time.Duration, _ error) {
	o.phases = append(o.phases, phase)
}

func (o *observerFake) ObserveRun(_ *domain.DetectionResult, _ time.Duration, err error) {
	o.runs++
	o.runErr = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustTheme(t *testing.T, raw string) *domain.Theme {
	t.Helper()
	var theme domain.Theme
	if err := json.Unmarshal([]byte(raw), &theme); err != nil {
		t.Fatalf("decode theme: %v", err)
	}
	return &theme
}

func klaviyoService(t *testing.T) *detectionServiceFake {
	t.Helper()
	klaviyo := &domain.CatalogApp{ID: json.RawMessage(`"app-1"`), AppName: "Klaviyo", Rating: 4.6, ReviewCount: 2500}
	enriched := []domain.DetectedApp{{DetectedAppName: "Klaviyo", Confidence: 87, App: klaviyo}}
	return &detectionServiceFake{
		sessions:  []domain.SessionID{"abc123"},
		storeURL:  "https://example.myshopify.com",
		theme:     mustTheme(t, `{"name":"Dawn","version":"15.0.0","id":887}`),
		extracted: []domain.DetectedApp{{DetectedAppName: "Klaviyo", Confidence: 87}},
		appsFound: 1,
		enriched:  enriched,
		final: &domain.DetectionResult{
			StoreURL:       "https://example.myshopify.com",
			IsShopifyStore: true,
			DetectedApps:   enriched,
			ScanDate:       time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		},
		complete: true,
	}
}

func TestDetectKlaviyoExample(t *testing.T) {
	service := klaviyoService(t)
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", sink)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(result.DetectedApps) != 1 || result.DetectedApps[0].App == nil || result.DetectedApps[0].App.AppName != "Klaviyo" {
		t.Fatalf("unexpected detected apps: %+v", result.DetectedApps)
	}
	if got := sink.count(domain.EventProgress); got != 5 {
		t.Fatalf("expected 5 progress events, got %d", got)
	}
	if got := sink.count(domain.EventComplete); got != 1 {
		t.Fatalf("expected 1 complete event, got %d", got)
	}
	if got := sink.count(domain.EventError); got != 0 {
		t.Fatalf("expected no error events, got %d", got)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != domain.EventComplete || last.Result != result {
		t.Fatalf("expected final complete event carrying the result, got %+v", last)
	}
}

func TestDetectEmitsProgressInPhaseOrder(t *testing.T) {
	service := klaviyoService(t)
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	if _, err := uc.Detect(context.Background(), "https://example.myshopify.com", sink); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	type observed struct {
		step      domain.Step
		withCount bool
	}
	want := []observed{
		{domain.StepValidating, false},
		{domain.StepExtracting, false},
		{domain.StepExtracting, true},
		{domain.StepSearching, false},
		{domain.StepFinalizing, false},
	}
	var got []observed
	for _, event := range sink.events[:len(sink.events)-1] {
		if event.Type != domain.EventProgress {
			t.Fatalf("unexpected non-progress event before terminal: %+v", event)
		}
		got = append(got, observed{step: event.Step, withCount: event.AppsFound != nil})
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("progress order = %+v, want %+v", got, want)
	}
	if *sink.events[2].AppsFound != 1 {
		t.Fatalf("expected interim appsFound=1, got %d", *sink.events[2].AppsFound)
	}
}

func TestDetectThreadsPhaseStateFieldForField(t *testing.T) {
	service := klaviyoService(t)
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	if _, err := uc.Detect(context.Background(), "  https://example.myshopify.com  ", nil); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if len(service.startCalls) != 1 || service.startCalls[0] != "https://example.myshopify.com" {
		t.Fatalf("unexpected start calls: %+v", service.startCalls)
	}

	extract := service.extractCalls[0]
	if extract.SessionID != "abc123" || extract.StoreURL != "https://example.myshopify.com" {
		t.Fatalf("unexpected extract request: %+v", extract)
	}
	if extract.Theme != service.theme {
		t.Fatalf("expected theme from start phase to be forwarded unchanged")
	}

	search := service.searchCalls[0]
	if search.SessionID != "abc123" || !reflect.DeepEqual(search.DetectedApps, service.extracted) {
		t.Fatalf("unexpected search request: %+v", search)
	}

	finalize := service.finalizeCalls[0]
	if finalize.SessionID != "abc123" || finalize.StoreURL != "https://example.myshopify.com" {
		t.Fatalf("unexpected finalize request: %+v", finalize)
	}
	if !reflect.DeepEqual(finalize.DetectedApps, service.enriched) {
		t.Fatalf("finalize must receive the enriched list, got %+v", finalize.DetectedApps)
	}
	if finalize.Theme != service.theme {
		t.Fatalf("expected theme to reach finalize unchanged")
	}
}

func TestDetectUsesStoreURLResolvedByStartPhase(t *testing.T) {
	service := klaviyoService(t)
	service.storeURL = "https://example-store.myshopify.com"
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	if _, err := uc.Detect(context.Background(), "example.com", nil); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if service.extractCalls[0].StoreURL != "https://example-store.myshopify.com" {
		t.Fatalf("expected resolved store url, got %q", service.extractCalls[0].StoreURL)
	}
	if service.finalizeCalls[0].StoreURL != "https://example-store.myshopify.com" {
		t.Fatalf("expected resolved store url in finalize, got %q", service.finalizeCalls[0].StoreURL)
	}
}

func TestDetectPassesThroughNullCatalogMatch(t *testing.T) {
	service := klaviyoService(t)
	unknown := domain.DetectedApp{DetectedAppName: "Mystery Upsell", Confidence: 42}
	service.extracted = []domain.DetectedApp{unknown}
	service.enriched = []domain.DetectedApp{unknown}
	service.final.DetectedApps = []domain.DetectedApp{unknown}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(result.DetectedApps) != 1 {
		t.Fatalf("expected unmatched app to be kept, got %+v", result.DetectedApps)
	}
	got := result.DetectedApps[0]
	if got.App != nil || got.Confidence != 42 || got.DetectedAppName != "Mystery Upsell" {
		t.Fatalf("unmatched app altered: %+v", got)
	}
	if got.DisplayName() != "Mystery Upsell" {
		t.Fatalf("expected raw detected name for display, got %q", got.DisplayName())
	}
}

func TestDetectKeepsDuplicatesInReceivedOrder(t *testing.T) {
	service := klaviyoService(t)
	klaviyo := &domain.CatalogApp{ID: json.RawMessage(`"app-1"`), AppName: "Klaviyo"}
	dupes := []domain.DetectedApp{
		{DetectedAppName: "Klaviyo", Confidence: 87, App: klaviyo},
		{DetectedAppName: "klaviyo email", Confidence: 60, App: klaviyo},
		{DetectedAppName: "Klaviyo", Confidence: 87, App: klaviyo},
	}
	service.final.DetectedApps = dupes
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !reflect.DeepEqual(result.DetectedApps, dupes) {
		t.Fatalf("detected apps altered: %+v", result.DetectedApps)
	}
}

func TestDetectFailsFastWhenExtractFails(t *testing.T) {
	service := klaviyoService(t)
	service.extractErr = &domain.PhaseError{
		Phase:      domain.PhaseExtractAnalyze,
		Kind:       domain.ErrServer,
		StatusCode: 200,
		Message:    "Scraping failed for this store",
	}
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", sink)
	if err == nil || result != nil {
		t.Fatalf("expected failure, got result=%+v err=%v", result, err)
	}
	if len(service.searchCalls) != 0 || len(service.finalizeCalls) != 0 {
		t.Fatalf("later phases must not run: search=%d finalize=%d", len(service.searchCalls), len(service.finalizeCalls))
	}
	if got := sink.count(domain.EventError); got != 1 {
		t.Fatalf("expected exactly 1 error event, got %d", got)
	}
	if got := sink.count(domain.EventComplete); got != 0 {
		t.Fatalf("expected no complete event, got %d", got)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != domain.EventError || last.Message != "Scraping failed for this store" {
		t.Fatalf("expected service message in error event, got %+v", last)
	}
	if last.ErrorKind != "server" {
		t.Fatalf("expected server error kind, got %q", last.ErrorKind)
	}
}

func TestDetectMintsNewSessionAfterFailedRun(t *testing.T) {
	service := klaviyoService(t)
	service.sessions = []domain.SessionID{"first", "second"}
	service.searchErr = &domain.PhaseError{Phase: domain.PhaseSearch, Kind: domain.ErrTimeout}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	if _, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil); !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	service.searchErr = nil
	if _, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil); err != nil {
		t.Fatalf("second Detect() error = %v", err)
	}

	if len(service.startCalls) != 2 {
		t.Fatalf("expected the second run to start from phase 1, got %d start calls", len(service.startCalls))
	}
	if service.extractCalls[1].SessionID != "second" {
		t.Fatalf("expected fresh session id, got %q", service.extractCalls[1].SessionID)
	}
	for _, call := range service.searchCalls[1:] {
		if call.SessionID != "second" {
			t.Fatalf("stale session reused: %+v", call)
		}
	}
	if service.finalizeCalls[0].SessionID != "second" {
		t.Fatalf("stale session reused in finalize: %q", service.finalizeCalls[0].SessionID)
	}
}

func TestDetectSearchesEvenWithZeroApps(t *testing.T) {
	service := klaviyoService(t)
	service.extracted = nil
	service.appsFound = 0
	service.enriched = nil
	service.final.DetectedApps = []domain.DetectedApp{}
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", sink)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(result.DetectedApps) != 0 {
		t.Fatalf("expected empty result, got %+v", result.DetectedApps)
	}
	if len(service.searchCalls) != 1 || service.searchCalls[0].DetectedApps == nil {
		t.Fatalf("expected search with an empty non-nil list, got %+v", service.searchCalls)
	}
	if *sink.events[2].AppsFound != 0 {
		t.Fatalf("expected interim count of zero, got %d", *sink.events[2].AppsFound)
	}
}

func TestDetectRejectsEmptyURLWithoutCallingService(t *testing.T) {
	service := klaviyoService(t)
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "   ", sink)
	if !domain.IsKind(err, domain.ErrClientRequest) {
		t.Fatalf("expected client request error, got %v", err)
	}
	if len(service.startCalls) != 0 {
		t.Fatalf("expected no remote calls, got %d", len(service.startCalls))
	}
	if len(sink.events) != 1 || sink.events[0].Type != domain.EventError {
		t.Fatalf("expected a single error event, got %+v", sink.events)
	}
}

func TestDetectRejectsStoreThatIsNotShopify(t *testing.T) {
	service := klaviyoService(t)
	notShopify := false
	service.isShopify = &notShopify
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "https://example.com", nil)
	if !domain.IsKind(err, domain.ErrClientRequest) {
		t.Fatalf("expected client request error, got %v", err)
	}
	if len(service.extractCalls) != 0 {
		t.Fatalf("expected pipeline to stop after start")
	}
}

func TestDetectRejectsIncompleteFinalize(t *testing.T) {
	service := klaviyoService(t)
	service.complete = false
	sink := &recordingSink{}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "https://example.myshopify.com", sink)
	if !domain.IsKind(err, domain.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if sink.count(domain.EventComplete) != 0 || sink.count(domain.EventError) != 1 {
		t.Fatalf("unexpected terminal events: %+v", sink.events)
	}
}

func TestDetectRejectsEmptyDetectedName(t *testing.T) {
	service := klaviyoService(t)
	service.extracted = []domain.DetectedApp{{DetectedAppName: " ", Confidence: 50}}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil)
	if !domain.IsKind(err, domain.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(service.searchCalls) != 0 {
		t.Fatalf("expected search to be skipped after contract violation")
	}
}

func TestDetectWrapsPlainServiceErrors(t *testing.T) {
	service := klaviyoService(t)
	service.startErr = errors.New("boom")
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil)
	if err == nil || err.Error() != "detection start: boom" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectReportsPhaseTimings(t *testing.T) {
	service := klaviyoService(t)
	observer := &observerFake{}
	uc := NewDetectStoreUseCase(service, observer, discardLogger())

	if _, err := uc.Detect(context.Background(), "https://example.myshopify.com", nil); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	want := []domain.Phase{domain.PhaseStart, domain.PhaseExtractAnalyze, domain.PhaseSearch, domain.PhaseFinalize}
	if !reflect.DeepEqual(observer.phases, want) {
		t.Fatalf("observed phases = %v, want %v", observer.phases, want)
	}
	if observer.runs != 1 || observer.runErr != nil {
		t.Fatalf("expected one successful run observation, got runs=%d err=%v", observer.runs, observer.runErr)
	}
}

func TestStreamClosesAfterTerminalEvent(t *testing.T) {
	service := klaviyoService(t)
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	var events []domain.ProgressEvent
	for event := range uc.Stream(context.Background(), "https://example.myshopify.com") {
		events = append(events, event)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[5].Type != domain.EventComplete {
		t.Fatalf("expected stream to end with complete, got %+v", events[5])
	}
}

func TestStreamEndsWithErrorOnFailure(t *testing.T) {
	service := klaviyoService(t)
	service.startErr = &domain.PhaseError{Phase: domain.PhaseStart, Kind: domain.ErrConnection}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	var events []domain.ProgressEvent
	for event := range uc.Stream(context.Background(), "https://example.myshopify.com") {
		events = append(events, event)
	}
	if len(events) != 2 {
		t.Fatalf("expected validating + error events, got %+v", events)
	}
	if events[1].Type != domain.EventError || events[1].ErrorKind != "connection" {
		t.Fatalf("unexpected terminal event: %+v", events[1])
	}
}

func TestProgressFuncSatisfiesSink(t *testing.T) {
	var got []domain.Step
	var sink ports.ProgressSink = ports.ProgressFunc(func(event domain.ProgressEvent) {
		got = append(got, event.Step)
	})
	sink.Report(domain.ProgressAt(domain.StepSearching, "x"))
	if len(got) != 1 || got[0] != domain.StepSearching {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestDetectSettlesWhenSinkPanics(t *testing.T) {
	service := klaviyoService(t)
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	reports := 0
	result, err := uc.Detect(context.Background(), "https://example.myshopify.com", ports.ProgressFunc(func(domain.ProgressEvent) {
		reports++
		panic("sink boom")
	}))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result == nil || len(result.DetectedApps) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(service.finalizeCalls) != 1 {
		t.Fatalf("expected the pipeline to reach finalize, got %d calls", len(service.finalizeCalls))
	}
	if reports != 6 {
		t.Fatalf("expected every event to be offered to the sink, got %d", reports)
	}
}

func TestDetectFailureSettlesWhenSinkPanics(t *testing.T) {
	service := klaviyoService(t)
	service.extractErr = &domain.PhaseError{Phase: domain.PhaseExtractAnalyze, Kind: domain.ErrServer, StatusCode: 500}
	uc := NewDetectStoreUseCase(service, nil, discardLogger())

	_, err := uc.Detect(context.Background(), "https://example.myshopify.com", ports.ProgressFunc(func(event domain.ProgressEvent) {
		if event.Type == domain.EventError {
			panic("sink boom")
		}
	}))
	if !domain.IsKind(err, domain.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
}
