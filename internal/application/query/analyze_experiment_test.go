package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/memory"
)

type fixture struct {
	experiments *memory.ExperimentRepository
	assignments *memory.AssignmentRepository
	events      *memory.EventRepository
	exp         *experiment.Experiment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		experiments: memory.NewExperimentRepository(),
		assignments: memory.NewAssignmentRepository(),
		events:      memory.NewEventRepository(),
	}
	f.exp = &experiment.Experiment{
		ID:     "exp-1",
		Name:   "Signup flow",
		Type:   experiment.TypeAB,
		Status: experiment.StatusDraft,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Old flow", TrafficPercent: 50, IsControl: true},
			{ID: "treatment", Name: "New flow", TrafficPercent: 50},
		},
		TargetMetrics: []experiment.TargetMetric{
			{ID: "m1", Name: "conversion", Aggregation: experiment.AggregationRate, IsPrimary: true},
		},
		Allocation:  experiment.Allocation{TrafficPercent: 100},
		Statistical: experiment.StatisticalConfig{SignificanceLevel: 0.05, Power: 0.8, MinSampleSize: 100},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.exp.Start(time.Now(), 0))
	require.NoError(t, f.experiments.Create(context.Background(), f.exp))
	return f
}

// populate assigns n users per arm and converts the first `conversions` of each.
func (f *fixture) populate(t *testing.T, variantID string, n, conversions int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		user := fmt.Sprintf("%s-user-%d", variantID, i)
		_, _, err := f.assignments.Upsert(ctx, &assignment.UserAssignment{
			UserID:       user,
			ExperimentID: f.exp.ID,
			VariantID:    variantID,
			AssignedAt:   time.Now(),
		})
		require.NoError(t, err)

		if i < conversions {
			require.NoError(t, f.events.Append(ctx, &assignment.ExperimentEvent{
				ID:           fmt.Sprintf("%s-ev-%d", variantID, i),
				UserID:       user,
				ExperimentID: f.exp.ID,
				VariantID:    variantID,
				Name:         "conversion",
				Value:        1,
				Timestamp:    time.Now(),
			}))
		}
	}
}

func TestAnalyze_TwoArmConversionExperiment(t *testing.T) {
	f := newFixture(t)
	// 1000 users per arm, 450 vs 550 conversions: a clear difference.
	f.populate(t, "control", 1000, 450)
	f.populate(t, "treatment", 1000, 550)

	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	results, err := h.Handle(context.Background(), f.exp.ID)
	require.NoError(t, err)

	require.Len(t, results.VariantResults, 2)
	control, treatment := results.VariantResults[0], results.VariantResults[1]

	assert.Equal(t, 1000, control.SampleSize)
	assert.InDelta(t, 0.45, control.ConversionRate, 1e-9)
	assert.InDelta(t, 0.55, treatment.ConversionRate, 1e-9)

	// Intervals bracket the point estimates, inside [0,1].
	assert.Less(t, control.Interval.Lower, control.ConversionRate)
	assert.Greater(t, control.Interval.Upper, control.ConversionRate)
	assert.GreaterOrEqual(t, control.Interval.Lower, 0.0)
	assert.LessOrEqual(t, treatment.Interval.Upper, 1.0)

	// The difference is highly significant and the treatment wins.
	require.NotEmpty(t, results.Comparisons)
	assert.Less(t, results.Summary.PValue, 0.01)
	assert.Equal(t, experiment.ResultHighlySignificant, results.Summary.Status)
	assert.Equal(t, "treatment", results.Summary.WinningVariantID)
	assert.InDelta(t, 22.2, results.Summary.UpliftPercent, 0.5)
	assert.Equal(t, 2000, results.Summary.TotalSampleSize)

	require.NotEmpty(t, results.Recommendations)
	assert.Equal(t, experiment.ActionImplement, results.Recommendations[0].Action)
	assert.Equal(t, "treatment", results.Recommendations[0].VariantID)
}

func TestAnalyze_NoData(t *testing.T) {
	f := newFixture(t)

	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	results, err := h.Handle(context.Background(), f.exp.ID)
	require.NoError(t, err)

	require.Len(t, results.VariantResults, 2)
	for _, vr := range results.VariantResults {
		assert.Equal(t, 0, vr.SampleSize)
		assert.Equal(t, 0.0, vr.ConversionRate)
		assert.Equal(t, 0.0, vr.Interval.Lower)
		assert.Equal(t, 0.0, vr.Interval.Upper)
	}
	assert.Equal(t, experiment.ResultInconclusive, results.Summary.Status)
	assert.Equal(t, 0, results.Summary.TotalSampleSize)

	// The inconclusive path recommends patience, not a rollout.
	require.NotEmpty(t, results.Recommendations)
	assert.Equal(t, experiment.ActionExtendDuration, results.Recommendations[0].Action)
}

func TestAnalyze_EvenSplitIsInconclusive(t *testing.T) {
	f := newFixture(t)
	f.populate(t, "control", 500, 100)
	f.populate(t, "treatment", 500, 100)

	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	results, err := h.Handle(context.Background(), f.exp.ID)
	require.NoError(t, err)

	assert.Equal(t, experiment.ResultInconclusive, results.Summary.Status)
	assert.GreaterOrEqual(t, results.Summary.PValue, 0.05)
}

func TestAnalyze_CompletedReturnsFrozenResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	frozen := &experiment.Results{
		ExperimentID: f.exp.ID,
		ComputedAt:   time.Now().Add(-time.Hour),
		Summary:      experiment.Summary{Status: experiment.ResultSignificant, PValue: 0.03},
	}
	require.NoError(t, f.exp.Complete(time.Now(), "done", frozen))
	require.NoError(t, f.experiments.Update(ctx, f.exp))

	// Data arriving after completion must not alter the frozen verdict.
	f.populate(t, "treatment", 100, 100)

	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	results, err := h.Handle(ctx, f.exp.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen.ComputedAt, results.ComputedAt)
	assert.Equal(t, experiment.ResultSignificant, results.Summary.Status)
}

func TestAnalyze_UnknownExperiment(t *testing.T) {
	f := newFixture(t)
	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)

	_, err := h.Handle(context.Background(), "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestAnalyze_ContinuousMetricWelch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.exp.TargetMetrics = append(f.exp.TargetMetrics, experiment.TargetMetric{
		ID: "m2", Name: "checkout_value", Aggregation: experiment.AggregationAvg,
	})
	require.NoError(t, f.experiments.Update(ctx, f.exp))

	// Same conversion behavior, but treatment carts are consistently larger.
	f.populate(t, "control", 200, 100)
	f.populate(t, "treatment", 200, 100)
	for i := 0; i < 200; i++ {
		require.NoError(t, f.events.Append(ctx, &assignment.ExperimentEvent{
			ID:           fmt.Sprintf("val-c-%d", i),
			UserID:       fmt.Sprintf("control-user-%d", i),
			ExperimentID: f.exp.ID,
			VariantID:    "control",
			Name:         "checkout_value",
			Value:        50 + float64(i%10),
			Timestamp:    time.Now(),
		}))
		require.NoError(t, f.events.Append(ctx, &assignment.ExperimentEvent{
			ID:           fmt.Sprintf("val-t-%d", i),
			UserID:       fmt.Sprintf("treatment-user-%d", i),
			ExperimentID: f.exp.ID,
			VariantID:    "treatment",
			Name:         "checkout_value",
			Value:        70 + float64(i%10),
			Timestamp:    time.Now(),
		}))
	}

	h := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	results, err := h.Handle(ctx, f.exp.ID)
	require.NoError(t, err)

	var valueComparison *experiment.MetricComparison
	for i := range results.Comparisons {
		if results.Comparisons[i].MetricName == "checkout_value" {
			valueComparison = &results.Comparisons[i]
		}
	}
	require.NotNil(t, valueComparison)
	assert.True(t, valueComparison.Significant)
	assert.Greater(t, valueComparison.VariantValue, valueComparison.BaselineValue)
}
