package detectionapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/infrastructure/resilience"
)

func kindForStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusServiceUnavailable:
		return domain.ErrServiceUnavailable
	case statusCode == http.StatusGatewayTimeout, statusCode == http.StatusRequestTimeout:
		return domain.ErrTimeout
	case statusCode >= 400 && statusCode < 500:
		return domain.ErrClientRequest
	default:
		return domain.ErrServer
	}
}

func transportError(phase domain.Phase, err error) error {
	kind := domain.ErrConnection
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = domain.ErrTimeout
	}
	return &domain.PhaseError{Phase: phase, Kind: kind, Err: err}
}

// asPhaseError normalises whatever came out of the executor: breaker refusals and context
// errors raised before the request was sent.
func asPhaseError(phase domain.Phase, err error) error {
	var phaseErr *domain.PhaseError
	if errors.As(err, &phaseErr) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return &domain.PhaseError{
			Phase:   phase,
			Kind:    domain.ErrServiceUnavailable,
			Message: "The detection service is failing repeatedly; please try again shortly.",
			Err:     err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(phase, err)
	}
	return &domain.PhaseError{Phase: phase, Kind: domain.ErrServer, Err: err}
}

// classifyPhaseError never allows a retry: every phase mutates the remote session.
func classifyPhaseError(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled):
		return resilience.Verdict{}
	case errors.Is(err, domain.ErrClientRequest):
		return resilience.Verdict{}
	default:
		return resilience.Verdict{Retry: false, CountsTrip: true}
	}
}

func classifyHealthError(err error) resilience.Verdict {
	verdict := classifyPhaseError(err)
	if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrServiceUnavailable) {
		verdict.Retry = true
	}
	return verdict
}
