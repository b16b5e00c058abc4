package experiment

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Defines the contract for experiment storage. Implementations live in
// infrastructure/persistence (memory for single-node, postgres for durable).
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for experiments.
type Repository interface {
	// Create persists a new experiment.
	// Returns shared.ErrExperimentAlreadyExists if the id is taken.
	Create(ctx context.Context, exp *Experiment) error

	// GetByID returns an experiment by id.
	// Returns shared.ErrExperimentNotFound if absent.
	GetByID(ctx context.Context, id string) (*Experiment, error)

	// Update persists the full aggregate. The write is atomic: lifecycle
	// transitions commit state and timestamps together or not at all.
	// Returns shared.ErrExperimentNotFound if absent.
	Update(ctx context.Context, exp *Experiment) error

	// GetByStatus returns experiments in the given lifecycle state.
	GetByStatus(ctx context.Context, status Status) ([]*Experiment, error)

	// GetAll returns every experiment.
	GetAll(ctx context.Context) ([]*Experiment, error)
}
