package query

import (
	"context"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT READS
// ══════════════════════════════════════════════════════════════════════════════

// ExperimentOverview is an experiment with its live counters attached.
type ExperimentOverview struct {
	Experiment  *experiment.Experiment `json:"experiment"`
	Assignments int                    `json:"assignments"`
	Events      int                    `json:"events"`
}

// GetExperimentHandler serves single and list experiment reads.
type GetExperimentHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	events      assignment.EventRepository
}

// NewGetExperimentHandler creates the handler.
func NewGetExperimentHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	events assignment.EventRepository,
) *GetExperimentHandler {
	return &GetExperimentHandler{
		experiments: experiments,
		assignments: assignments,
		events:      events,
	}
}

// Handle returns one experiment with its counters.
func (h *GetExperimentHandler) Handle(ctx context.Context, experimentID string) (*ExperimentOverview, error) {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	counts, err := h.assignments.CountByExperiment(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	var total int
	for _, n := range counts {
		total += n
	}

	eventCount, err := h.events.CountByExperiment(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	return &ExperimentOverview{
		Experiment:  exp,
		Assignments: total,
		Events:      eventCount,
	}, nil
}

// List returns all experiments, optionally filtered by status.
func (h *GetExperimentHandler) List(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	if status == "" {
		return h.experiments.GetAll(ctx)
	}
	return h.experiments.GetByStatus(ctx, status)
}
