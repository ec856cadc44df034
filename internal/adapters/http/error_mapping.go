package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that went away mid-request.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrClientRequest):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrServiceUnavailable), domain.IsKind(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrConnection), domain.IsKind(err, domain.ErrServer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string               `json:"error"`
	Kind  string               `json:"kind,omitempty"`
	Run   *domain.DetectionRun `json:"run,omitempty"`
}

func writeError(w http.ResponseWriter, err error, run *domain.DetectionRun) {
	noteFailure(w, err)
	writeJSON(w, mapErrorToHTTPStatus(err), errorResponse{
		Error: domain.UserMessage(err),
		Kind:  domain.KindName(err),
		Run:   run,
	})
}

var (
	errNoQuickDetector = errors.New("single-shot detection is not configured")
	errNoRunHistory    = errors.New("run history is not configured")
)
