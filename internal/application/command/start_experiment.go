package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
	"github.com/growthhub/experiment-engine/pkg/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// START EXPERIMENT COMMAND
// Moves a draft experiment to running. Computes the statistically required
// per-arm sample size from the primary metric and stores it back into the
// configuration when it exceeds the configured floor.
// ══════════════════════════════════════════════════════════════════════════════

// StartExperimentHandler handles the draft → running transition.
type StartExperimentHandler struct {
	experiments experiment.Repository
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewStartExperimentHandler creates the handler.
func NewStartExperimentHandler(
	experiments experiment.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *StartExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &StartExperimentHandler{
		experiments: experiments,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *StartExperimentHandler) WithClock(now func() time.Time) *StartExperimentHandler {
	h.now = now
	return h
}

// Handle starts the experiment. The transition and its timestamp commit
// atomically via a single repository update.
func (h *StartExperimentHandler) Handle(ctx context.Context, experimentID string) (*experiment.Experiment, error) {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	required := h.requiredSampleSize(exp)
	if err := exp.Start(h.now(), required); err != nil {
		return nil, err
	}

	if err := h.experiments.Update(ctx, exp); err != nil {
		return nil, shared.WrapError("experiment", "Start", shared.ErrExternalService, "persist transition", err)
	}

	h.logger.Info("experiment started",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"required_sample_size", exp.Statistical.MinSampleSize,
	)

	if err := h.publisher.Publish(experiment.NewStartedEvent(exp)); err != nil {
		h.logger.Error("publish experiment.started", "experiment_id", exp.ID, "error", err)
	}

	return exp, nil
}

// requiredSampleSize plans the per-arm sample size from the primary metric.
// Metrics without a baseline cannot be planned; the configured floor stands.
func (h *StartExperimentHandler) requiredSampleSize(exp *experiment.Experiment) int {
	primary, ok := exp.PrimaryMetric()
	if !ok || primary.Baseline <= 0 || primary.MDEPercent <= 0 {
		return 0
	}
	cfg := exp.Statistical.Defaults()
	return stats.RequiredSampleSize(primary.Baseline, primary.MDEPercent, cfg.SignificanceLevel, cfg.Power)
}
