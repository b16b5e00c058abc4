package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK EVENT COMMAND
// Fans one logical event out to every running experiment the user holds a
// sticky assignment in. Experiments with no assignment, or no longer running,
// silently drop the event. A failure on one experiment never blocks the rest.
// ══════════════════════════════════════════════════════════════════════════════

// TrackEventCommand records one user-level event.
type TrackEventCommand struct {
	UserID     string
	Name       string
	Properties map[string]interface{}

	// Value is the optional numeric payload (revenue, duration, ...).
	Value float64
}

// TrackEventHandler is the event tracker.
type TrackEventHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	events      assignment.EventRepository
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewTrackEventHandler creates the handler.
func NewTrackEventHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	events assignment.EventRepository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *TrackEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &TrackEventHandler{
		experiments: experiments,
		assignments: assignments,
		events:      events,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *TrackEventHandler) WithClock(now func() time.Time) *TrackEventHandler {
	h.now = now
	return h
}

// Handle records the event against every eligible experiment. It returns
// the number of experiments the event was recorded for; it never returns an
// error to the caller - this is a hot path off user-facing requests.
func (h *TrackEventHandler) Handle(ctx context.Context, cmd TrackEventCommand) int {
	if cmd.UserID == "" || cmd.Name == "" {
		return 0
	}

	held, err := h.assignments.GetByUser(ctx, cmd.UserID)
	if err != nil {
		h.logger.Error("load assignments for tracking", "user_id", cmd.UserID, "error", err)
		return 0
	}

	recorded := 0
	timestamp := h.now()
	for _, a := range held {
		if !h.recordFor(ctx, a, cmd, timestamp) {
			continue
		}
		recorded++
	}
	return recorded
}

// recordFor appends the event and the exposure for a single experiment.
// Failures are logged and isolated per experiment.
func (h *TrackEventHandler) recordFor(ctx context.Context, a *assignment.UserAssignment, cmd TrackEventCommand, ts time.Time) bool {
	exp, err := h.experiments.GetByID(ctx, a.ExperimentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Error("load experiment for tracking", "experiment_id", a.ExperimentID, "error", err)
		}
		return false
	}
	if !exp.IsRunning() {
		return false
	}

	event := &assignment.ExperimentEvent{
		ID:           uuid.NewString(),
		UserID:       cmd.UserID,
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		Name:         cmd.Name,
		Value:        cmd.Value,
		Properties:   cmd.Properties,
		Timestamp:    ts,
	}
	if err := h.events.Append(ctx, event); err != nil {
		h.logger.Error("append event", "experiment_id", a.ExperimentID, "event", cmd.Name, "error", err)
		return false
	}

	exposure := assignment.ExposureEvent{Name: cmd.Name, Timestamp: ts}
	if err := h.assignments.AppendExposure(ctx, a.Key(), exposure); err != nil {
		// The event itself is recorded; the exposure list is best effort.
		h.logger.Error("append exposure", "experiment_id", a.ExperimentID, "error", err)
	}

	if err := h.publisher.Publish(assignment.NewTrackedEvent(event)); err != nil {
		h.logger.Error("publish event.tracked", "experiment_id", a.ExperimentID, "error", err)
	}
	return true
}
