package command

import (
	"context"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE MULTIVARIATE EXPERIMENT COMMAND
// Expands a factorial design into concrete variants and goes through the
// regular create path, so all draft validation applies unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// CreateMultivariateCommand describes a factorial experiment.
type CreateMultivariateCommand struct {
	Name         string
	Description  string
	Factors      []experiment.Factor
	Metrics      []experiment.TargetMetric
	Segmentation []experiment.SegmentRule
	Allocation   experiment.Allocation
	Schedule     experiment.Schedule
	Statistical  experiment.StatisticalConfig
}

// CreateMultivariateHandler bootstraps multivariate experiments.
type CreateMultivariateHandler struct {
	create *CreateExperimentHandler
}

// NewCreateMultivariateHandler creates the handler on top of the regular
// create handler.
func NewCreateMultivariateHandler(create *CreateExperimentHandler) *CreateMultivariateHandler {
	return &CreateMultivariateHandler{create: create}
}

// Handle generates one variant per factor-level combination and creates the
// experiment in draft.
func (h *CreateMultivariateHandler) Handle(ctx context.Context, cmd CreateMultivariateCommand) (*experiment.Experiment, error) {
	variants, err := experiment.GenerateFactorialVariants(cmd.Factors)
	if err != nil {
		return nil, err
	}

	return h.create.Handle(ctx, CreateExperimentCommand{
		Name:         cmd.Name,
		Description:  cmd.Description,
		Type:         experiment.TypeMultivariate,
		Variants:     variants,
		Metrics:      cmd.Metrics,
		Segmentation: cmd.Segmentation,
		Allocation:   cmd.Allocation,
		Schedule:     cmd.Schedule,
		Statistical:  cmd.Statistical,
	})
}
