// Package memory implements the persistence interfaces with process-local
// maps behind a mutex. It is the single-node reference implementation; the
// postgres package provides the durable one behind the same interfaces.
package memory

import (
	"context"
	"sync"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ExperimentRepository implements experiment.Repository in memory.
type ExperimentRepository struct {
	mu          sync.RWMutex
	experiments map[string]*experiment.Experiment
}

// NewExperimentRepository creates an empty repository.
func NewExperimentRepository() *ExperimentRepository {
	return &ExperimentRepository{
		experiments: make(map[string]*experiment.Experiment),
	}
}

// Create persists a new experiment.
func (r *ExperimentRepository) Create(_ context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[exp.ID]; exists {
		return shared.ErrExperimentAlreadyExists
	}
	r.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

// GetByID returns an experiment by id.
func (r *ExperimentRepository) GetByID(_ context.Context, id string) (*experiment.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exp, ok := r.experiments[id]
	if !ok {
		return nil, shared.ErrExperimentNotFound
	}
	return cloneExperiment(exp), nil
}

// Update persists the full aggregate atomically.
func (r *ExperimentRepository) Update(_ context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.experiments[exp.ID]; !ok {
		return shared.ErrExperimentNotFound
	}
	r.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

// GetByStatus returns experiments in the given lifecycle state.
func (r *ExperimentRepository) GetByStatus(_ context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*experiment.Experiment
	for _, exp := range r.experiments {
		if exp.Status == status {
			out = append(out, cloneExperiment(exp))
		}
	}
	return out, nil
}

// GetAll returns every experiment.
func (r *ExperimentRepository) GetAll(_ context.Context) ([]*experiment.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*experiment.Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		out = append(out, cloneExperiment(exp))
	}
	return out, nil
}

// cloneExperiment copies the aggregate so callers never share mutable state
// with the store.
func cloneExperiment(exp *experiment.Experiment) *experiment.Experiment {
	c := *exp
	c.Variants = append([]experiment.Variant(nil), exp.Variants...)
	c.TargetMetrics = append([]experiment.TargetMetric(nil), exp.TargetMetrics...)
	c.Segmentation = append([]experiment.SegmentRule(nil), exp.Segmentation...)
	c.Schedule.StopConditions = append([]experiment.StopCondition(nil), exp.Schedule.StopConditions...)
	c.Allocation.ExcludeUsers = append([]string(nil), exp.Allocation.ExcludeUsers...)
	return &c
}
