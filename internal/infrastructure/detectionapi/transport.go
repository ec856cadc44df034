package detectionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

const maxErrorBody = 2048

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Result  T      `json:"result"`
}

func (e envelope[T]) message() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.Error)
}

func (c *Client) postJSON(ctx context.Context, phase domain.Phase, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", phase, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", phase, err)
	}
	return c.do(req, phase, out)
}

func (c *Client) getJSON(ctx context.Context, phase domain.Phase, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", phase, err)
	}
	return c.do(req, phase, out)
}

func (c *Client) do(req *http.Request, phase domain.Phase, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(phase, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(phase, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) && phase == domain.PhaseHealth {
			return nil
		}
		return &domain.PhaseError{
			Phase:      phase,
			Kind:       domain.ErrServer,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode %s response: %w", phase, err),
		}
	}
	return nil
}

func statusError(phase domain.Phase, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.PhaseError{
		Phase:      phase,
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    errorMessage(raw),
		Err:        fmt.Errorf("detection service %s status: %s", phase, resp.Status),
	}
}

// errorMessage extracts the human-readable message of an error body, which is normally a
// {success:false, message} envelope.
func errorMessage(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(trimmed, &env); err == nil {
		return env.message()
	}
	if trimmed[0] == '<' {
		return ""
	}
	return string(trimmed)
}
