package assignment

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for user assignments.
type Repository interface {
	// Upsert stores the assignment unless one already exists for the same
	// (user, experiment) pair. The check-and-insert is atomic with
	// single-writer-wins semantics: the returned assignment is the one
	// that actually holds, and created reports whether this call won.
	// Losing concurrent callers get the winner back, never an error.
	Upsert(ctx context.Context, a *UserAssignment) (winner *UserAssignment, created bool, err error)

	// Get returns the assignment for a (user, experiment) pair.
	// Returns shared.ErrAssignmentNotFound if absent.
	Get(ctx context.Context, key Key) (*UserAssignment, error)

	// GetByUser returns all assignments a user currently holds.
	GetByUser(ctx context.Context, userID string) ([]*UserAssignment, error)

	// GetByExperiment returns all assignments for an experiment.
	GetByExperiment(ctx context.Context, experimentID string) ([]*UserAssignment, error)

	// CountByExperiment returns the number of assignments per variant id
	// for an experiment.
	CountByExperiment(ctx context.Context, experimentID string) (map[string]int, error)

	// AppendExposure appends one exposure to an existing assignment.
	// The append is atomic per assignment.
	AppendExposure(ctx context.Context, key Key, exposure ExposureEvent) error
}

// EventRepository defines append-only storage for experiment events.
type EventRepository interface {
	// Append stores one immutable event.
	Append(ctx context.Context, event *ExperimentEvent) error

	// GetByExperiment returns all events recorded for an experiment.
	GetByExperiment(ctx context.Context, experimentID string) ([]*ExperimentEvent, error)

	// CountByExperiment returns the number of events for an experiment.
	CountByExperiment(ctx context.Context, experimentID string) (int, error)
}
