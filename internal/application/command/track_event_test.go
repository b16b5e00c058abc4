package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/memory"
)

func seedAssignment(t *testing.T, repo assignment.Repository, userID, experimentID, variantID string) {
	t.Helper()
	_, created, err := repo.Upsert(context.Background(), &assignment.UserAssignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		AssignedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestTrackEvent_RecordsForRunningExperiment(t *testing.T) {
	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()
	newRunningExperiment(t, experiments)
	ctx := context.Background()

	seedAssignment(t, assignments, "user-1", "exp-1", "control")

	h := NewTrackEventHandler(experiments, assignments, events, nil, nil)
	recorded := h.Handle(ctx, TrackEventCommand{UserID: "user-1", Name: "conversion", Value: 1})
	assert.Equal(t, 1, recorded)

	stored, err := events.GetByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "conversion", stored[0].Name)
	assert.Equal(t, "control", stored[0].VariantID)
	assert.NotEmpty(t, stored[0].ID)

	// The exposure made it onto the assignment too.
	held, err := assignments.Get(ctx, assignment.Key{UserID: "user-1", ExperimentID: "exp-1"})
	require.NoError(t, err)
	require.Len(t, held.Exposures, 1)
	assert.Equal(t, "conversion", held.Exposures[0].Name)
}

func TestTrackEvent_WithoutAssignmentDrops(t *testing.T) {
	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()
	newRunningExperiment(t, experiments)
	ctx := context.Background()

	h := NewTrackEventHandler(experiments, assignments, events, nil, nil)
	assert.Equal(t, 0, h.Handle(ctx, TrackEventCommand{UserID: "stranger", Name: "conversion"}))

	stored, err := events.GetByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestTrackEvent_CompletedExperimentDropsLateEvents(t *testing.T) {
	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()
	exp := newRunningExperiment(t, experiments)
	ctx := context.Background()

	seedAssignment(t, assignments, "user-1", "exp-1", "control")

	require.NoError(t, exp.Complete(time.Now(), "done", nil))
	require.NoError(t, experiments.Update(ctx, exp))

	h := NewTrackEventHandler(experiments, assignments, events, nil, nil)
	assert.Equal(t, 0, h.Handle(ctx, TrackEventCommand{UserID: "user-1", Name: "conversion"}))
}

func TestTrackEvent_FanOutAcrossExperiments(t *testing.T) {
	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()
	ctx := context.Background()

	first := newRunningExperiment(t, experiments)
	second := newRunningExperiment2(t, experiments, "exp-2")

	seedAssignment(t, assignments, "user-1", first.ID, "control")
	seedAssignment(t, assignments, "user-1", second.ID, "treatment")

	h := NewTrackEventHandler(experiments, assignments, events, nil, nil)
	assert.Equal(t, 2, h.Handle(ctx, TrackEventCommand{UserID: "user-1", Name: "conversion"}))

	for _, id := range []string{first.ID, second.ID} {
		n, err := events.CountByExperiment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "experiment %s", id)
	}
}

func TestTrackEvent_FailureIsolation(t *testing.T) {
	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()
	ctx := context.Background()

	exp := newRunningExperiment(t, experiments)
	seedAssignment(t, assignments, "user-1", exp.ID, "control")
	// Assignment to an experiment that no longer exists.
	seedAssignment(t, assignments, "user-1", "deleted-exp", "control")

	h := NewTrackEventHandler(experiments, assignments, events, nil, nil)
	// The dangling assignment is skipped; the healthy one still records.
	assert.Equal(t, 1, h.Handle(ctx, TrackEventCommand{UserID: "user-1", Name: "conversion"}))
}

func TestTrackEvent_EmptyInputs(t *testing.T) {
	h := NewTrackEventHandler(memory.NewExperimentRepository(), memory.NewAssignmentRepository(), memory.NewEventRepository(), nil, nil)
	ctx := context.Background()

	assert.Equal(t, 0, h.Handle(ctx, TrackEventCommand{UserID: "", Name: "conversion"}))
	assert.Equal(t, 0, h.Handle(ctx, TrackEventCommand{UserID: "user-1", Name: ""}))
}

// newRunningExperiment2 creates a second running experiment under the given id.
func newRunningExperiment2(t *testing.T, repo experiment.Repository, id string) *experiment.Experiment {
	t.Helper()
	exp := &experiment.Experiment{
		ID:     id,
		Name:   "Second test " + id,
		Type:   experiment.TypeAB,
		Status: experiment.StatusDraft,
		Variants: []experiment.Variant{
			{ID: "control", TrafficPercent: 50, IsControl: true},
			{ID: "treatment", TrafficPercent: 50},
		},
		TargetMetrics: []experiment.TargetMetric{
			{ID: "m1", Name: "conversion", Aggregation: experiment.AggregationRate, IsPrimary: true},
		},
		Allocation:  experiment.Allocation{TrafficPercent: 100},
		Statistical: experiment.StatisticalConfig{SignificanceLevel: 0.05, Power: 0.8, MinSampleSize: 100},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, exp.Start(time.Now(), 0))
	require.NoError(t, repo.Create(context.Background(), exp))
	return exp
}
