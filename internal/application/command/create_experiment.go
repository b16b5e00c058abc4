// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE EXPERIMENT COMMAND
// Validates a definition and persists it in draft. Nothing is recorded for a
// draft experiment; assignments and events start flowing only after start.
// ══════════════════════════════════════════════════════════════════════════════

// CreateExperimentCommand contains the full experiment definition.
type CreateExperimentCommand struct {
	Name         string
	Description  string
	Type         experiment.Type
	Variants     []experiment.Variant
	Metrics      []experiment.TargetMetric
	Segmentation []experiment.SegmentRule
	Allocation   experiment.Allocation
	Schedule     experiment.Schedule
	Statistical  experiment.StatisticalConfig
}

// CreateExperimentHandler handles experiment creation.
type CreateExperimentHandler struct {
	experiments experiment.Repository
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewCreateExperimentHandler creates the handler.
func NewCreateExperimentHandler(
	experiments experiment.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *CreateExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &CreateExperimentHandler{
		experiments: experiments,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *CreateExperimentHandler) WithClock(now func() time.Time) *CreateExperimentHandler {
	h.now = now
	return h
}

// Handle validates the definition and persists it in draft state.
// The whole create is atomic: a validation failure persists nothing.
func (h *CreateExperimentHandler) Handle(ctx context.Context, cmd CreateExperimentCommand) (*experiment.Experiment, error) {
	expType := cmd.Type
	if expType == "" {
		expType = experiment.TypeAB
	}

	exp := &experiment.Experiment{
		ID:            uuid.NewString(),
		Name:          cmd.Name,
		Description:   cmd.Description,
		Type:          expType,
		Status:        experiment.StatusDraft,
		Variants:      fillVariantIDs(cmd.Variants),
		TargetMetrics: fillMetricIDs(cmd.Metrics),
		Segmentation:  cmd.Segmentation,
		Allocation:    cmd.Allocation,
		Schedule:      cmd.Schedule,
		Statistical:   cmd.Statistical.Defaults(),
		CreatedAt:     h.now(),
	}
	if exp.Allocation.TrafficPercent == 0 {
		exp.Allocation.TrafficPercent = 100
	}

	if err := exp.Validate(); err != nil {
		return nil, err
	}

	if err := h.experiments.Create(ctx, exp); err != nil {
		return nil, shared.WrapError("experiment", "Create", shared.ErrExternalService, "persist experiment", err)
	}

	h.logger.Info("experiment created",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"type", string(exp.Type),
		"variants", len(exp.Variants),
	)

	if err := h.publisher.Publish(experiment.NewCreatedEvent(exp)); err != nil {
		h.logger.Error("publish experiment.created", "experiment_id", exp.ID, "error", err)
	}

	return exp, nil
}

// fillVariantIDs assigns ids to variants that came in without one.
func fillVariantIDs(variants []experiment.Variant) []experiment.Variant {
	out := make([]experiment.Variant, len(variants))
	copy(out, variants)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

// fillMetricIDs assigns ids to metrics that came in without one.
func fillMetricIDs(metrics []experiment.TargetMetric) []experiment.TargetMetric {
	out := make([]experiment.TargetMetric, len(metrics))
	copy(out, metrics)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}
