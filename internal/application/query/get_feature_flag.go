package query

import (
	"context"
	"log/slog"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET FEATURE FLAG QUERY
// Makes the assignment engine double as a progressive rollout mechanism:
// the first running experiment whose assigned variant declares the flag wins.
// Never fails - unknown flags resolve to the caller's default.
// ══════════════════════════════════════════════════════════════════════════════

// GetFeatureFlagHandler resolves feature flags from variant assignments.
type GetFeatureFlagHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	logger      *slog.Logger
}

// NewGetFeatureFlagHandler creates the handler.
func NewGetFeatureFlagHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	logger *slog.Logger,
) *GetFeatureFlagHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetFeatureFlagHandler{
		experiments: experiments,
		assignments: assignments,
		logger:      logger,
	}
}

// Handle returns the flag value for the user, or defaultValue when no
// running experiment delivers the flag to them.
func (h *GetFeatureFlagHandler) Handle(ctx context.Context, userID, key string, defaultValue interface{}) interface{} {
	if userID == "" || key == "" {
		return defaultValue
	}

	held, err := h.assignments.GetByUser(ctx, userID)
	if err != nil {
		h.logger.Error("load assignments for flag lookup", "user_id", userID, "error", err)
		return defaultValue
	}

	for _, a := range held {
		exp, err := h.experiments.GetByID(ctx, a.ExperimentID)
		if err != nil {
			if !shared.IsNotFound(err) {
				h.logger.Error("load experiment for flag lookup", "experiment_id", a.ExperimentID, "error", err)
			}
			continue
		}
		if !exp.IsRunning() {
			continue
		}
		variant, ok := exp.VariantByID(a.VariantID)
		if !ok {
			continue
		}
		if value, ok := variant.FeatureFlags[key]; ok {
			return value
		}
	}

	return defaultValue
}
