package command

import (
	"context"
	"log/slog"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAUSE / RESUME / ARCHIVE
// Thin transitions around the aggregate's state machine. Each one loads,
// mutates, persists the whole aggregate and publishes the matching event.
// ══════════════════════════════════════════════════════════════════════════════

// LifecycleHandler groups the small lifecycle transitions that carry no
// extra logic beyond the state machine itself.
type LifecycleHandler struct {
	experiments experiment.Repository
	publisher   shared.EventPublisher
	logger      *slog.Logger
}

// NewLifecycleHandler creates the handler.
func NewLifecycleHandler(
	experiments experiment.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &LifecycleHandler{
		experiments: experiments,
		publisher:   publisher,
		logger:      logger,
	}
}

// Pause suspends a running experiment. Assignment requests fall back to the
// default variant while paused; sticky assignments are retained.
func (h *LifecycleHandler) Pause(ctx context.Context, experimentID string) error {
	return h.transition(ctx, experimentID, "paused", shared.EventExperimentPaused,
		func(exp *experiment.Experiment) error { return exp.Pause() })
}

// Resume puts a paused experiment back in running state.
func (h *LifecycleHandler) Resume(ctx context.Context, experimentID string) error {
	return h.transition(ctx, experimentID, "resumed", shared.EventExperimentResumed,
		func(exp *experiment.Experiment) error { return exp.Resume() })
}

// Archive retires a draft, paused or completed experiment.
func (h *LifecycleHandler) Archive(ctx context.Context, experimentID string) error {
	return h.transition(ctx, experimentID, "archived", shared.EventExperimentArchived,
		func(exp *experiment.Experiment) error { return exp.Archive() })
}

func (h *LifecycleHandler) transition(
	ctx context.Context,
	experimentID string,
	verb string,
	eventType shared.EventType,
	apply func(*experiment.Experiment) error,
) error {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return err
	}

	if err := apply(exp); err != nil {
		return err
	}

	if err := h.experiments.Update(ctx, exp); err != nil {
		return shared.WrapError("experiment", "Lifecycle", shared.ErrExternalService, "persist transition", err)
	}

	h.logger.Info("experiment "+verb, "experiment_id", exp.ID, "name", exp.Name)

	if err := h.publisher.Publish(experiment.NewLifecycleEvent(eventType, exp)); err != nil {
		h.logger.Error("publish "+string(eventType), "experiment_id", exp.ID, "error", err)
	}

	return nil
}
