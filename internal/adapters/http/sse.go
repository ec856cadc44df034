package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

// sseProgressWriter streams progress events as Server-Sent Events. The pipeline reports from the
// request goroutine, so writes are never concurrent.
type sseProgressWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func newSSEProgressWriter(w http.ResponseWriter) (*sseProgressWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseProgressWriter{w: w, flusher: flusher}, nil
}

func (s *sseProgressWriter) Report(event domain.ProgressEvent) {
	if s.err != nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

func (s *sseProgressWriter) done() error {
	if s.err != nil {
		return s.err
	}
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
