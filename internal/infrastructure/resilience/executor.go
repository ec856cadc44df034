package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict tells the executor what a failure means for retries and for the breaker.
type Verdict struct {
	Retry      bool
	CountsTrip bool
}

type Classifier func(err error) Verdict

// StateListener is told about every breaker transition; states are "closed", "half-open" and
// "open".
type StateListener func(operation, from, to string)

// Executor guards remote calls with one circuit breaker per operation name.
type Executor struct {
	policy   Policy
	logger   *slog.Logger
	listener StateListener

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy:   policy.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// WithStateListener registers fn for breaker transitions. Call it before the first Execute.
func (e *Executor) WithStateListener(fn StateListener) *Executor {
	e.listener = fn
	return e
}

func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil callback for %q", operation)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = countEverything
	}

	if !e.policy.BreakerEnabled {
		return e.attempt(ctx, op, fn, classify)
	}
	_, err := e.breaker(op, classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.attempt(ctx, op, fn, classify)
	})
	return err
}

func (e *Executor) attempt(ctx context.Context, op string, fn func(context.Context) error, classify Classifier) error {
	wait := e.policy.InitialBackoff
	for try := 1; ; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err).Retry || try >= e.policy.MaxAttempts {
			return err
		}

		e.logger.Warn("retry_attempt",
			"operation", op,
			"attempt", try,
			"max_attempts", e.policy.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		wait = min(time.Duration(float64(wait)*e.policy.Multiplier), e.policy.MaxBackoff)
	}
}

func (e *Executor) breaker(op string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}
	policy := e.policy
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: policy.BreakerHalfOpenMaxCalls,
		Timeout:     policy.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).CountsTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.listener != nil {
				e.listener(name, from.String(), to.String())
			}
		},
	})
	e.breakers[op] = cb
	return cb
}

// IsCircuitOpen reports whether err was produced by a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func countEverything(error) Verdict {
	return Verdict{Retry: false, CountsTrip: true}
}
