package experiment

import (
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// Lifecycle domain events consumed by the (out-of-scope) dashboard/BI layer.
// ══════════════════════════════════════════════════════════════════════════════

// CreatedEvent is emitted when an experiment is persisted in draft.
type CreatedEvent struct {
	shared.BaseEvent
	Name         string `json:"name"`
	Kind         Type   `json:"kind"`
	VariantCount int    `json:"variant_count"`
}

// Payload implements shared.Event.
func (e CreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":          e.Name,
		"type":          string(e.Kind),
		"variant_count": e.VariantCount,
	}
}

// NewCreatedEvent creates a CreatedEvent.
func NewCreatedEvent(exp *Experiment) CreatedEvent {
	return CreatedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventExperimentCreated, exp.ID),
		Name:         exp.Name,
		Kind:         exp.Type,
		VariantCount: len(exp.Variants),
	}
}

// StartedEvent is emitted when an experiment begins running.
type StartedEvent struct {
	shared.BaseEvent
	Name               string    `json:"name"`
	RequiredSampleSize int       `json:"required_sample_size"`
	StartedAt          time.Time `json:"started_at"`
}

// Payload implements shared.Event.
func (e StartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":                 e.Name,
		"required_sample_size": e.RequiredSampleSize,
		"started_at":           e.StartedAt.Format(time.RFC3339),
	}
}

// NewStartedEvent creates a StartedEvent.
func NewStartedEvent(exp *Experiment) StartedEvent {
	started := time.Time{}
	if exp.StartedAt != nil {
		started = *exp.StartedAt
	}
	return StartedEvent{
		BaseEvent:          shared.NewBaseEvent(shared.EventExperimentStarted, exp.ID),
		Name:               exp.Name,
		RequiredSampleSize: exp.Statistical.MinSampleSize,
		StartedAt:          started,
	}
}

// StoppedEvent is emitted when an experiment completes, manually or via a
// stop condition.
type StoppedEvent struct {
	shared.BaseEvent
	Name       string       `json:"name"`
	Reason     string       `json:"reason"`
	Verdict    ResultStatus `json:"verdict"`
	WinnerID   string       `json:"winner_id,omitempty"`
	SampleSize int          `json:"sample_size"`
}

// Payload implements shared.Event.
func (e StoppedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":        e.Name,
		"reason":      e.Reason,
		"verdict":     string(e.Verdict),
		"winner_id":   e.WinnerID,
		"sample_size": e.SampleSize,
	}
}

// NewStoppedEvent creates a StoppedEvent.
func NewStoppedEvent(exp *Experiment, reason string) StoppedEvent {
	ev := StoppedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventExperimentStopped, exp.ID),
		Name:      exp.Name,
		Reason:    reason,
	}
	if exp.Results != nil {
		ev.Verdict = exp.Results.Summary.Status
		ev.WinnerID = exp.Results.Summary.WinningVariantID
		ev.SampleSize = exp.Results.Summary.TotalSampleSize
	}
	return ev
}

// LifecycleEvent covers the simple transitions (paused, resumed, archived)
// that carry no payload beyond the new state.
type LifecycleEvent struct {
	shared.BaseEvent
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Payload implements shared.Event.
func (e LifecycleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":   e.Name,
		"status": string(e.Status),
	}
}

// NewLifecycleEvent creates a LifecycleEvent of the given type.
func NewLifecycleEvent(eventType shared.EventType, exp *Experiment) LifecycleEvent {
	return LifecycleEvent{
		BaseEvent: shared.NewBaseEvent(eventType, exp.ID),
		Name:      exp.Name,
		Status:    exp.Status,
	}
}

// WarningEvent flags an operational concern on a running experiment,
// e.g. running for a long time with no stop conditions configured.
type WarningEvent struct {
	shared.BaseEvent
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Payload implements shared.Event.
func (e WarningEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":    e.Name,
		"message": e.Message,
	}
}

// NewWarningEvent creates a WarningEvent.
func NewWarningEvent(exp *Experiment, message string) WarningEvent {
	return WarningEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventExperimentWarning, exp.ID),
		Name:      exp.Name,
		Message:   message,
	}
}
