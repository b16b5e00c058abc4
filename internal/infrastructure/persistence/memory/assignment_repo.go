package memory

import (
	"context"
	"sync"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// AssignmentRepository implements assignment.Repository in memory.
type AssignmentRepository struct {
	mu          sync.RWMutex
	assignments map[assignment.Key]*assignment.UserAssignment
}

// NewAssignmentRepository creates an empty repository.
func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{
		assignments: make(map[assignment.Key]*assignment.UserAssignment),
	}
}

// Upsert stores the assignment unless one already exists for the same
// user and experiment. The returned assignment is the winner either way,
// so concurrent callers for the same user converge on one variant.
func (r *AssignmentRepository) Upsert(_ context.Context, a *assignment.UserAssignment) (*assignment.UserAssignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.Key()
	if existing, ok := r.assignments[key]; ok {
		return cloneAssignment(existing), false, nil
	}
	r.assignments[key] = cloneAssignment(a)
	return cloneAssignment(a), true, nil
}

// Get returns the assignment for a user in an experiment.
func (r *AssignmentRepository) Get(_ context.Context, key assignment.Key) (*assignment.UserAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[key]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return cloneAssignment(a), nil
}

// GetByUser returns every assignment the user holds.
func (r *AssignmentRepository) GetByUser(_ context.Context, userID string) ([]*assignment.UserAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*assignment.UserAssignment
	for key, a := range r.assignments {
		if key.UserID == userID {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

// GetByExperiment returns every assignment in the experiment.
func (r *AssignmentRepository) GetByExperiment(_ context.Context, experimentID string) ([]*assignment.UserAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*assignment.UserAssignment
	for key, a := range r.assignments {
		if key.ExperimentID == experimentID {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

// CountByExperiment returns assignment counts keyed by variant id.
func (r *AssignmentRepository) CountByExperiment(_ context.Context, experimentID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for key, a := range r.assignments {
		if key.ExperimentID == experimentID {
			counts[a.VariantID]++
		}
	}
	return counts, nil
}

// AppendExposure records an exposure on an existing assignment.
func (r *AssignmentRepository) AppendExposure(_ context.Context, key assignment.Key, exposure assignment.ExposureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[key]
	if !ok {
		return shared.ErrAssignmentNotFound
	}
	a.Exposures = append(a.Exposures, exposure)
	return nil
}

func cloneAssignment(a *assignment.UserAssignment) *assignment.UserAssignment {
	c := *a
	c.Exposures = append([]assignment.ExposureEvent(nil), a.Exposures...)
	return &c
}
