package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
	"github.com/growthhub/experiment-engine/pkg/bucketing"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGN USER COMMAND
// The hot path. Called from user-facing flows, so it degrades to safe
// defaults instead of erroring: non-running experiments yield the default
// variant, ineligible users yield empty, and storage hiccups are logged but
// never surfaced to the caller.
// ══════════════════════════════════════════════════════════════════════════════

// AssignUserCommand requests a variant for a user.
type AssignUserCommand struct {
	UserID       string
	ExperimentID string

	// Attributes feed segmentation predicates. Optional.
	Attributes map[string]interface{}
}

// AssignUserHandler resolves sticky assignments.
type AssignUserHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	bucketer    bucketing.Bucketer
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewAssignUserHandler creates the handler. A nil bucketer defaults to the
// stable FNV-1a hash.
func NewAssignUserHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	bucketer bucketing.Bucketer,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *AssignUserHandler {
	if bucketer == nil {
		bucketer = bucketing.Hash
	}
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &AssignUserHandler{
		experiments: experiments,
		assignments: assignments,
		bucketer:    bucketer,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *AssignUserHandler) WithClock(now func() time.Time) *AssignUserHandler {
	h.now = now
	return h
}

// Handle returns the variant id for the user. Idempotent: once a sticky
// assignment exists for the pair, every call returns the same variant.
func (h *AssignUserHandler) Handle(ctx context.Context, cmd AssignUserCommand) string {
	if cmd.UserID == "" || cmd.ExperimentID == "" {
		return ""
	}

	exp, err := h.experiments.GetByID(ctx, cmd.ExperimentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Error("load experiment for assignment", "experiment_id", cmd.ExperimentID, "error", err)
		}
		return ""
	}

	// Not running: hand out the default variant without recording anything.
	if !exp.IsRunning() {
		return exp.DefaultVariantID()
	}

	// Sticky hit: the existing assignment always wins.
	key := assignment.Key{UserID: cmd.UserID, ExperimentID: cmd.ExperimentID}
	if existing, err := h.assignments.Get(ctx, key); err == nil {
		return existing.VariantID
	} else if !shared.IsNotFound(err) {
		h.logger.Error("read assignment", "user_id", cmd.UserID, "experiment_id", cmd.ExperimentID, "error", err)
		return exp.DefaultVariantID()
	}

	hash := h.bucketer(cmd.UserID, cmd.ExperimentID)
	if !h.eligible(exp, cmd, hash) {
		return ""
	}

	variant, ok := exp.PickVariant(hash)
	if !ok {
		return ""
	}

	candidate := &assignment.UserAssignment{
		UserID:       cmd.UserID,
		ExperimentID: cmd.ExperimentID,
		VariantID:    variant.ID,
		BucketHash:   hash,
		AssignedAt:   h.now(),
	}

	winner, created, err := h.assignments.Upsert(ctx, candidate)
	if err != nil {
		h.logger.Error("upsert assignment", "user_id", cmd.UserID, "experiment_id", cmd.ExperimentID, "error", err)
		return variant.ID
	}

	if created {
		h.logger.Debug("user assigned",
			"user_id", cmd.UserID,
			"experiment_id", cmd.ExperimentID,
			"variant_id", winner.VariantID,
		)
		if err := h.publisher.Publish(assignment.NewUserAssignedEvent(winner)); err != nil {
			h.logger.Error("publish user.assigned", "experiment_id", cmd.ExperimentID, "error", err)
		}
	}

	// Concurrent callers for the same pair converge on the winner.
	return winner.VariantID
}

// eligible applies the admission checks: traffic allocation, the explicit
// exclude list, then every configured segmentation rule.
func (h *AssignUserHandler) eligible(exp *experiment.Experiment, cmd AssignUserCommand, hash float64) bool {
	if hash*100 > exp.Allocation.TrafficPercent {
		return false
	}
	if exp.Allocation.Excludes(cmd.UserID) {
		return false
	}
	for _, rule := range exp.Segmentation {
		if !rule.Matches(cmd.Attributes) {
			return false
		}
	}
	return true
}
