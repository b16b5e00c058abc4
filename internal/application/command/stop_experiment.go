package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STOP EXPERIMENT COMMAND
// Running → completed. The status flips and persists BEFORE the final
// analysis read, so events arriving after the flip are dropped by the tracker
// and never leak into the frozen results.
// ══════════════════════════════════════════════════════════════════════════════

// Analyzer computes derived results for an experiment. Satisfied by the
// analysis query handler; narrowed here so commands do not depend on the
// query package.
type Analyzer interface {
	Compute(ctx context.Context, exp *experiment.Experiment) (*experiment.Results, error)
}

// StopExperimentHandler handles manual and monitor-triggered stops.
type StopExperimentHandler struct {
	experiments experiment.Repository
	analyzer    Analyzer
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewStopExperimentHandler creates the handler.
func NewStopExperimentHandler(
	experiments experiment.Repository,
	analyzer Analyzer,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *StopExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &StopExperimentHandler{
		experiments: experiments,
		analyzer:    analyzer,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *StopExperimentHandler) WithClock(now func() time.Time) *StopExperimentHandler {
	h.now = now
	return h
}

// Handle stops a running experiment and freezes its final results.
func (h *StopExperimentHandler) Handle(ctx context.Context, experimentID, reason string) (*experiment.Results, error) {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if !exp.IsRunning() {
		return nil, shared.ErrNotRunning
	}

	// Close the door first: once persisted as completed, track() refuses
	// further events for this experiment.
	if err := exp.Complete(h.now(), reason, nil); err != nil {
		return nil, err
	}
	if err := h.experiments.Update(ctx, exp); err != nil {
		return nil, shared.WrapError("experiment", "Stop", shared.ErrExternalService, "persist transition", err)
	}

	results, err := h.analyzer.Compute(ctx, exp)
	if err != nil {
		h.logger.Error("final analysis failed", "experiment_id", exp.ID, "error", err)
		results = &experiment.Results{
			ExperimentID: exp.ID,
			ComputedAt:   h.now(),
			Summary:      experiment.Summary{Status: experiment.ResultInconclusive, PValue: 1},
		}
	}

	exp.Results = results
	if err := h.experiments.Update(ctx, exp); err != nil {
		return nil, shared.WrapError("experiment", "Stop", shared.ErrExternalService, "persist results", err)
	}

	h.logger.Info("experiment stopped",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"reason", reason,
		"verdict", string(results.Summary.Status),
	)

	if err := h.publisher.Publish(experiment.NewStoppedEvent(exp, reason)); err != nil {
		h.logger.Error("publish experiment.stopped", "experiment_id", exp.ID, "error", err)
	}

	return results, nil
}
