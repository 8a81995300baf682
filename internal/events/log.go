package events

import (
	"context"

	"github.com/go-logr/logr"
)

// LogPublisher writes stage events to the structured log. It is always
// registered, so no transition ever goes unrecorded.
type LogPublisher struct {
	log logr.Logger
}

// NewLogPublisher creates a publisher writing through log.
func NewLogPublisher(log logr.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event StageEvent) error {
	p.log.Info("stage transition",
		"runId", event.RunID,
		"service", event.Service,
		"stage", event.Stage,
		"status", event.Status,
		"durationMs", event.DurationMs,
		"logRef", event.LogRef,
	)
	return nil
}
