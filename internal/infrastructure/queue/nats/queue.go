package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/resilience"
)

const workerQueueGroup = "detectors"

// Queue carries asynchronous detection requests and broadcasts run progress.
type Queue struct {
	conn            *nats.Conn
	requestSubject  string
	progressSubject string
	executor        *resilience.Executor
	logger          *slog.Logger
}

type Subjects struct {
	Requests string
	Progress string
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("store-app-detector"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		requestSubject:  subjects.Requests,
		progressSubject: subjects.Progress,
		executor:        options.ResilienceExecutor,
		logger:          logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDetectionRequested(ctx context.Context, req domain.DetectionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal detection request: %w", err)
	}
	return q.publish(ctx, "nats.publish_request", q.requestSubject, payload)
}

// PublishProgress sends one progress event on <progress subject>.<run id>.
func (q *Queue) PublishProgress(ctx context.Context, runID string, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return q.publish(ctx, "nats.publish_progress", progressSubjectFor(q.progressSubject, runID), payload)
}

func (q *Queue) publish(ctx context.Context, op, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, op, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) SubscribeDetectionRequested(ctx context.Context, handler func(context.Context, domain.DetectionRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.requestSubject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		req, err := decodeDetectionRequest(msg.Data)
		if err != nil {
			q.logger.Error("detection_request_dropped", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			q.logger.Error("worker_handler_error", "run_id", req.RunID, "store_url", req.StoreURL, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeDetectionRequest(data []byte) (domain.DetectionRequest, error) {
	var req domain.DetectionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.DetectionRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode detection request", err)
	}
	req.StoreURL = strings.TrimSpace(req.StoreURL)
	if req.RunID == "" || req.StoreURL == "" {
		return domain.DetectionRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode detection request", errors.New("run id and store url are required"))
	}
	return req, nil
}

func progressSubjectFor(base, runID string) string {
	return strings.TrimSuffix(base, ".") + "." + runID
}
