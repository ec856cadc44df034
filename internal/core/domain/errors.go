package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnection         = errors.New("detection service unreachable")
	ErrTimeout            = errors.New("detection service timeout")
	ErrServiceUnavailable = errors.New("detection service unavailable")
	ErrClientRequest      = errors.New("invalid detection request")
	ErrServer             = errors.New("detection service error")

	ErrRunNotFound   = errors.New("detection run not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfigured = errors.New("not configured")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// PhaseError is returned for every failed remote call. Message holds the text supplied by the
// detection service, if any.
type PhaseError struct {
	Phase      Phase
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *PhaseError) Error() string {
	if e == nil {
		return "detection phase error"
	}
	var b strings.Builder
	b.WriteString(string(e.Phase))
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PhaseError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindName is the stable label of the error kind carried by err.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrClientRequest):
		return "client_request"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrRunNotFound):
		return "not_found"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}

// UserMessage returns text that is safe to show to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var phaseErr *PhaseError
	if errors.As(err, &phaseErr) && strings.TrimSpace(phaseErr.Message) != "" {
		return strings.TrimSpace(phaseErr.Message)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Detection was cancelled."
	case errors.Is(err, ErrTimeout):
		return "The detection service took too long to respond. Please try again."
	case errors.Is(err, ErrConnection):
		return "Could not reach the detection service."
	case errors.Is(err, ErrServiceUnavailable):
		return "The detection service is temporarily unavailable."
	case errors.Is(err, ErrClientRequest):
		return "The store URL could not be processed."
	case errors.Is(err, ErrServer):
		return "The detection service failed to process the store."
	case errors.Is(err, ErrInvalidInput):
		return "The request is invalid."
	case errors.Is(err, ErrRunNotFound):
		return "Detection run not found."
	case errors.Is(err, ErrNotConfigured):
		return "This feature is not enabled on the server."
	default:
		return "Detection failed."
	}
}
