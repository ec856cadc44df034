package domain

type ProgressEventType string

const (
	EventProgress ProgressEventType = "progress"
	EventComplete ProgressEventType = "complete"
	EventError    ProgressEventType = "error"
)

type Step string

const (
	StepValidating Step = "validating"
	StepExtracting Step = "extracting"
	StepSearching  Step = "searching"
	StepFinalizing Step = "finalizing"
)

// ProgressEvent is the payload pushed to a progress sink. Step, Message and AppsFound are set on
// progress events, Result on the complete event, Message and ErrorKind on the error event.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	Step      Step              `json:"step,omitempty"`
	Message   string            `json:"message,omitempty"`
	AppsFound *int              `json:"appsFound,omitempty"`
	Result    *DetectionResult  `json:"result,omitempty"`
	ErrorKind string            `json:"errorKind,omitempty"`
}

func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func ProgressAt(step Step, message string) ProgressEvent {
	return ProgressEvent{Type: EventProgress, Step: step, Message: message}
}

func ProgressWithCount(step Step, message string, appsFound int) ProgressEvent {
	count := appsFound
	return ProgressEvent{Type: EventProgress, Step: step, Message: message, AppsFound: &count}
}

func CompleteEvent(result *DetectionResult) ProgressEvent {
	return ProgressEvent{Type: EventComplete, Result: result}
}

func ErrorEvent(err error) ProgressEvent {
	return ProgressEvent{Type: EventError, Message: UserMessage(err), ErrorKind: KindName(err)}
}
