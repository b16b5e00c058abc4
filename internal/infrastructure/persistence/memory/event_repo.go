package memory

import (
	"context"
	"sync"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
)

// EventRepository implements assignment.EventRepository with an in-memory
// append-only log per experiment.
type EventRepository struct {
	mu     sync.RWMutex
	events map[string][]*assignment.ExperimentEvent
}

// NewEventRepository creates an empty repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{
		events: make(map[string][]*assignment.ExperimentEvent),
	}
}

// Append stores one immutable event.
func (r *EventRepository) Append(_ context.Context, event *assignment.ExperimentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[event.ExperimentID] = append(r.events[event.ExperimentID], cloneEvent(event))
	return nil
}

// GetByExperiment returns all events recorded for an experiment.
func (r *EventRepository) GetByExperiment(_ context.Context, experimentID string) ([]*assignment.ExperimentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[experimentID]
	out := make([]*assignment.ExperimentEvent, 0, len(stored))
	for _, e := range stored {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}

// CountByExperiment returns the number of events for an experiment.
func (r *EventRepository) CountByExperiment(_ context.Context, experimentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.events[experimentID]), nil
}

func cloneEvent(e *assignment.ExperimentEvent) *assignment.ExperimentEvent {
	c := *e
	if e.Properties != nil {
		c.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}
