package domain

import "time"

type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// DetectionRun is the history record of one pipeline invocation. It never holds the session id.
type DetectionRun struct {
	ID           string           `json:"id"`
	StoreURL     string           `json:"store_url"`
	Status       RunStatus        `json:"status"`
	LastStep     Step             `json:"last_step,omitempty"`
	AppsFound    int              `json:"apps_found"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Result       *DetectionResult `json:"result,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// DetectionRequest is the message that asks a worker to run the pipeline.
type DetectionRequest struct {
	RunID       string    `json:"run_id"`
	StoreURL    string    `json:"store_url"`
	RequestedAt time.Time `json:"requested_at"`
}
