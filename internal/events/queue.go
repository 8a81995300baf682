package events

import (
	"context"

	"github.com/go-logr/logr"
)

// Queue fans stage events out to all registered publishers. Publish
// failures are logged and never block or fail the producing pipeline run.
type Queue struct {
	EventChan  <-chan StageEvent
	publishers []Publisher
	log        logr.Logger
}

// NewQueue creates a queue reading from eventChan.
func NewQueue(eventChan <-chan StageEvent, publishers []Publisher, log logr.Logger) *Queue {
	return &Queue{
		EventChan:  eventChan,
		publishers: publishers,
		log:        log,
	}
}

// Loop consumes events until the channel is closed or ctx is cancelled.
func (q *Queue) Loop(ctx context.Context) {
	q.log.Info("event queue started", "publishers", len(q.publishers))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-q.EventChan:
			if !ok {
				return
			}
			for _, publisher := range q.publishers {
				if err := publisher.Publish(ctx, event); err != nil {
					q.log.Error(err, "failed to publish stage event",
						"runId", event.RunID,
						"stage", event.Stage,
						"status", event.Status,
					)
				}
			}
		}
	}
}
