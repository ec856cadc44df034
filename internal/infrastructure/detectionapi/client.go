package detectionapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/resilience"
)

// DefaultTimeout leaves room for the server-side scrape and AI batch work of a single phase.
const DefaultTimeout = 120 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

const operationPrefix = "detection."

func operationName(phase domain.Phase) string {
	return operationPrefix + string(phase)
}

// PhaseFromOperation maps a resilience operation name used by Client back to its phase.
func PhaseFromOperation(operation string) (domain.Phase, bool) {
	phase, ok := strings.CutPrefix(operation, operationPrefix)
	if !ok || phase == "" {
		return "", false
	}
	return domain.Phase(phase), true
}

// Client talks JSON over HTTP to the remote detection service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg Config, options Options) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

func (c *Client) Start(ctx context.Context, storeURL string) (domain.StartResult, error) {
	return callPhase[domain.StartResult](ctx, c, domain.PhaseStart, "/api/detection/start", map[string]string{
		"url": storeURL,
	})
}

func (c *Client) ExtractAnalyze(ctx context.Context, req domain.ExtractAnalyzeRequest) (domain.ExtractAnalyzeResult, error) {
	return callPhase[domain.ExtractAnalyzeResult](ctx, c, domain.PhaseExtractAnalyze, "/api/detection/extract-analyze", req)
}

func (c *Client) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	if req.DetectedApps == nil {
		req.DetectedApps = []domain.DetectedApp{}
	}
	return callPhase[domain.SearchResult](ctx, c, domain.PhaseSearch, "/api/detection/search", req)
}

func (c *Client) Finalize(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResult, error) {
	if req.DetectedApps == nil {
		req.DetectedApps = []domain.DetectedApp{}
	}
	return callPhase[domain.FinalizeResult](ctx, c, domain.PhaseFinalize, "/api/detection/finalize", req)
}

// DetectApps runs the service's single-shot detection, bypassing the phased flow.
func (c *Client) DetectApps(ctx context.Context, storeURL string) (*domain.DetectionResult, error) {
	result, err := callPhase[*domain.DetectionResult](ctx, c, domain.PhaseDetectApps, "/api/detect-apps", map[string]string{
		"url": storeURL,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &domain.PhaseError{
			Phase: domain.PhaseDetectApps,
			Kind:  domain.ErrServer,
			Err:   errors.New("response has no detection result"),
		}
	}
	return result, nil
}

func (c *Client) Health(ctx context.Context) error {
	call := func(ctx context.Context) error {
		var body struct {
			Status string `json:"status"`
		}
		return c.getJSON(ctx, domain.PhaseHealth, "/health", &body)
	}
	return c.execute(ctx, domain.PhaseHealth, call, classifyHealthError)
}

// callPhase performs one request/response exchange and unwraps the {success, result} envelope.
func callPhase[T any](ctx context.Context, c *Client, phase domain.Phase, path string, payload any) (T, error) {
	var out T
	call := func(ctx context.Context) error {
		var env envelope[T]
		if err := c.postJSON(ctx, phase, path, payload, &env); err != nil {
			return err
		}
		if !env.Success {
			return &domain.PhaseError{
				Phase:   phase,
				Kind:    domain.ErrServer,
				Message: env.message(),
				Err:     errors.New("service reported success=false"),
			}
		}
		out = env.Result
		return nil
	}
	if err := c.execute(ctx, phase, call, classifyPhaseError); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, phase domain.Phase, call func(context.Context) error, classify resilience.Classifier) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operationName(phase), call, classify)
	} else {
		err = call(ctx)
	}
	if err == nil {
		return nil
	}
	return asPhaseError(phase, err)
}
