// Package jobs contains the scheduled jobs of the experiment engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/application/command"
	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STOP CONDITION MONITOR
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMonitorInterval is how often the monitor sweeps running experiments.
const DefaultMonitorInterval = 60 * time.Second

// longRunningWarningDays is the age at which an experiment with no stop
// conditions gets flagged as likely forgotten.
const longRunningWarningDays = 30

// StopConditionMonitor sweeps running experiments and stops the ones whose
// configured stop conditions are met. Conditions are evaluated in declaration
// order and the first satisfied one wins; its kind becomes the stop reason.
//
// One broken experiment never blocks the sweep: every failure is logged and
// the loop moves on to the next experiment.
type StopConditionMonitor struct {
	experiments experiment.Repository
	assignments assignment.Repository
	analyzer    command.Analyzer
	stopper     *command.StopExperimentHandler
	publisher   shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time

	// warned tracks experiments already flagged as long-running so the
	// warning fires once per process lifetime, not every sweep.
	warned map[string]bool
}

// NewStopConditionMonitor creates the monitor job.
func NewStopConditionMonitor(
	experiments experiment.Repository,
	assignments assignment.Repository,
	analyzer command.Analyzer,
	stopper *command.StopExperimentHandler,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *StopConditionMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &StopConditionMonitor{
		experiments: experiments,
		assignments: assignments,
		analyzer:    analyzer,
		stopper:     stopper,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		warned:      make(map[string]bool),
	}
}

// WithClock overrides the time source. Intended for tests.
func (j *StopConditionMonitor) WithClock(now func() time.Time) *StopConditionMonitor {
	j.now = now
	return j
}

// Name implements scheduler.Job.
func (j *StopConditionMonitor) Name() string {
	return "stop-condition-monitor"
}

// Description implements scheduler.Job.
func (j *StopConditionMonitor) Description() string {
	return "stops running experiments whose duration, sample size or significance thresholds are met"
}

// Run implements scheduler.Job.
func (j *StopConditionMonitor) Run(ctx context.Context) error {
	running, err := j.experiments.GetByStatus(ctx, experiment.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running experiments: %w", err)
	}

	for _, exp := range running {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := j.check(ctx, exp); err != nil {
			j.logger.Error("stop condition check failed",
				"experiment_id", exp.ID,
				"name", exp.Name,
				"error", err,
			)
		}
	}

	return nil
}

// check evaluates one experiment's stop conditions and stops it when the
// first one is satisfied.
func (j *StopConditionMonitor) check(ctx context.Context, exp *experiment.Experiment) error {
	if len(exp.Schedule.StopConditions) == 0 {
		j.warnIfForgotten(exp)
		return nil
	}

	for _, cond := range exp.Schedule.StopConditions {
		met, err := j.evaluate(ctx, exp, cond)
		if err != nil {
			return fmt.Errorf("evaluate %s condition: %w", cond.Kind, err)
		}
		if !met {
			continue
		}

		reason := fmt.Sprintf("auto-stop: %s threshold reached", cond.Kind)
		j.logger.Info("stop condition met",
			"experiment_id", exp.ID,
			"name", exp.Name,
			"condition", string(cond.Kind),
			"threshold", cond.Threshold,
		)

		if _, err := j.stopper.Handle(ctx, exp.ID, reason); err != nil {
			return fmt.Errorf("stop experiment: %w", err)
		}
		return nil
	}

	return nil
}

// evaluate checks a single condition against the experiment's current state.
func (j *StopConditionMonitor) evaluate(ctx context.Context, exp *experiment.Experiment, cond experiment.StopCondition) (bool, error) {
	switch cond.Kind {
	case experiment.StopDuration:
		return exp.RunningDays(j.now()) >= cond.Threshold, nil

	case experiment.StopSampleSize:
		counts, err := j.assignments.CountByExperiment(ctx, exp.ID)
		if err != nil {
			return false, err
		}
		var total int
		for _, n := range counts {
			total += n
		}
		return float64(total) >= cond.Threshold, nil

	case experiment.StopSignificance:
		results, err := j.analyzer.Compute(ctx, exp)
		if err != nil {
			return false, err
		}
		// A p-value of zero with no data means nothing was compared yet.
		if results.Summary.TotalSampleSize == 0 {
			return false, nil
		}
		threshold := cond.Threshold
		if threshold <= 0 {
			threshold = exp.Statistical.SignificanceLevel
		}
		return results.Summary.PValue <= threshold && results.Summary.PValue > 0, nil

	default:
		j.logger.Warn("unknown stop condition kind ignored",
			"experiment_id", exp.ID,
			"kind", string(cond.Kind),
		)
		return false, nil
	}
}

// warnIfForgotten emits a warning event for experiments running far past
// the point where anyone is likely watching them.
func (j *StopConditionMonitor) warnIfForgotten(exp *experiment.Experiment) {
	if j.warned[exp.ID] {
		return
	}
	if exp.RunningDays(j.now()) < longRunningWarningDays {
		return
	}

	j.warned[exp.ID] = true
	msg := fmt.Sprintf("experiment has been running for over %d days with no stop conditions", longRunningWarningDays)

	j.logger.Warn("long-running experiment without stop conditions",
		"experiment_id", exp.ID,
		"name", exp.Name,
	)

	if err := j.publisher.Publish(experiment.NewWarningEvent(exp, msg)); err != nil {
		j.logger.Error("publish experiment.warning", "experiment_id", exp.ID, "error", err)
	}
}
