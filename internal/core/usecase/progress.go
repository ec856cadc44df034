package usecase

import (
	"log/slog"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
)

// maxEventsPerRun bounds the events of a single run: five progress events plus one terminal.
const maxEventsPerRun = 6

// progressReporter guards the sink contract: events are delivered in order and at most one
// terminal event is ever emitted. A panicking sink is logged and the run carries on.
type progressReporter struct {
	sink    ports.ProgressSink
	logger  *slog.Logger
	settled bool
}

func newProgressReporter(sink ports.ProgressSink, logger *slog.Logger) *progressReporter {
	return &progressReporter{sink: sink, logger: logger}
}

func (r *progressReporter) progress(step domain.Step, message string) {
	r.emit(domain.ProgressAt(step, message))
}

func (r *progressReporter) progressWithCount(step domain.Step, message string, appsFound int) {
	r.emit(domain.ProgressWithCount(step, message, appsFound))
}

func (r *progressReporter) complete(result *domain.DetectionResult) {
	r.emit(domain.CompleteEvent(result))
}

func (r *progressReporter) fail(err error) {
	r.emit(domain.ErrorEvent(err))
}

func (r *progressReporter) emit(event domain.ProgressEvent) {
	if r.settled {
		return
	}
	if event.Terminal() {
		r.settled = true
	}
	deliver(r.sink, event, r.logger)
}

// deliver reports event to sink and contains a panic raised by it.
func deliver(sink ports.ProgressSink, event domain.ProgressEvent, logger *slog.Logger) {
	if sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("progress_sink_panic",
				"event", string(event.Type),
				"step", string(event.Step),
				"panic", rec,
			)
		}
	}()
	sink.Report(event)
}

// fanOutSink delivers each event to every non-nil sink in order. One failing sink does not
// keep the event from the others.
type fanOutSink struct {
	sinks  []ports.ProgressSink
	logger *slog.Logger
}

func (f fanOutSink) Report(event domain.ProgressEvent) {
	for _, sink := range f.sinks {
		deliver(sink, event, f.logger)
	}
}
