package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/application/command"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRefreshInterval is how often interim results are recomputed.
const DefaultRefreshInterval = 5 * time.Minute

// ResultsSink receives freshly computed interim results. Implemented by the
// Redis results cache.
type ResultsSink interface {
	Put(ctx context.Context, experimentID string, results *experiment.Results) error
}

// RefreshResultsJob recomputes interim analysis results for every running
// experiment and pushes them into the cache, keeping dashboard reads cheap.
type RefreshResultsJob struct {
	experiments experiment.Repository
	analyzer    command.Analyzer
	sink        ResultsSink
	logger      *slog.Logger
}

// NewRefreshResultsJob creates the job.
func NewRefreshResultsJob(
	experiments experiment.Repository,
	analyzer command.Analyzer,
	sink ResultsSink,
	logger *slog.Logger,
) *RefreshResultsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshResultsJob{
		experiments: experiments,
		analyzer:    analyzer,
		sink:        sink,
		logger:      logger,
	}
}

// Name implements scheduler.Job.
func (j *RefreshResultsJob) Name() string {
	return "refresh-results"
}

// Description implements scheduler.Job.
func (j *RefreshResultsJob) Description() string {
	return "recomputes interim analysis results for running experiments and refreshes the cache"
}

// Run implements scheduler.Job.
func (j *RefreshResultsJob) Run(ctx context.Context) error {
	running, err := j.experiments.GetByStatus(ctx, experiment.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running experiments: %w", err)
	}

	var failures int
	for _, exp := range running {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := j.analyzer.Compute(ctx, exp)
		if err != nil {
			failures++
			j.logger.Error("interim analysis failed",
				"experiment_id", exp.ID,
				"error", err,
			)
			continue
		}

		if err := j.sink.Put(ctx, exp.ID, results); err != nil {
			failures++
			j.logger.Error("results cache write failed",
				"experiment_id", exp.ID,
				"error", err,
			)
		}
	}

	if failures > 0 {
		return fmt.Errorf("refreshed with %d failure(s) across %d experiment(s)", failures, len(running))
	}

	return nil
}
