package assignment

import (
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// UserAssignedEvent is emitted the first time a user lands in a variant.
// Re-reads of a sticky assignment do not emit it again.
type UserAssignedEvent struct {
	shared.BaseEvent
	UserID       string  `json:"user_id"`
	ExperimentID string  `json:"experiment_id"`
	VariantID    string  `json:"variant_id"`
	BucketHash   float64 `json:"bucket_hash"`
}

// Payload implements shared.Event.
func (e UserAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"experiment_id": e.ExperimentID,
		"variant_id":    e.VariantID,
		"bucket_hash":   e.BucketHash,
	}
}

// NewUserAssignedEvent creates a UserAssignedEvent.
func NewUserAssignedEvent(a *UserAssignment) UserAssignedEvent {
	return UserAssignedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventUserAssigned, a.ExperimentID),
		UserID:       a.UserID,
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		BucketHash:   a.BucketHash,
	}
}

// TrackedEvent is emitted after an experiment event is recorded.
type TrackedEvent struct {
	shared.BaseEvent
	UserID       string  `json:"user_id"`
	ExperimentID string  `json:"experiment_id"`
	VariantID    string  `json:"variant_id"`
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
}

// Payload implements shared.Event.
func (e TrackedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"experiment_id": e.ExperimentID,
		"variant_id":    e.VariantID,
		"name":          e.Name,
		"value":         e.Value,
	}
}

// NewTrackedEvent creates a TrackedEvent.
func NewTrackedEvent(ev *ExperimentEvent) TrackedEvent {
	return TrackedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventTracked, ev.ExperimentID),
		UserID:       ev.UserID,
		ExperimentID: ev.ExperimentID,
		VariantID:    ev.VariantID,
		Name:         ev.Name,
		Value:        ev.Value,
	}
}
