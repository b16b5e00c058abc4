package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

func sampleExperiment(id string) *experiment.Experiment {
	return &experiment.Experiment{
		ID:     id,
		Name:   "Sample " + id,
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
		Statistical: experiment.StatisticalConfig{MinSampleSize: 100},
		CreatedAt:   time.Now(),
	}
}

func TestExperimentRepo_CreateAndGet(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleExperiment("exp-1")))

	got, err := repo.GetByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "Sample exp-1", got.Name)

	// Duplicate ids are rejected.
	err = repo.Create(ctx, sampleExperiment("exp-1"))
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestExperimentRepo_Update(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	exp := sampleExperiment("exp-1")
	require.NoError(t, repo.Create(ctx, exp))

	require.NoError(t, exp.Start(time.Now(), 0))
	require.NoError(t, repo.Update(ctx, exp))

	got, err := repo.GetByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, got.Status)

	assert.True(t, shared.IsNotFound(repo.Update(ctx, sampleExperiment("missing"))))
}

func TestExperimentRepo_GetByStatus(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleExperiment("draft-1")))

	running := sampleExperiment("running-1")
	require.NoError(t, running.Start(time.Now(), 0))
	require.NoError(t, repo.Create(ctx, running))

	drafts, err := repo.GetByStatus(ctx, experiment.StatusDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "draft-1", drafts[0].ID)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExperimentRepo_ClonesAreIsolated(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	exp := sampleExperiment("exp-1")
	require.NoError(t, repo.Create(ctx, exp))

	// Mutations on the caller's copy stay with the caller.
	exp.Name = "mutated"
	exp.Variants[0].TrafficPercent = 99

	got, err := repo.GetByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "Sample exp-1", got.Name)
	assert.Equal(t, 50.0, got.Variants[0].TrafficPercent)

	// And mutations on a read copy do not poison later reads.
	got.Status = experiment.StatusArchived
	again, err := repo.GetByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusDraft, again.Status)
}

func TestEventRepo_AppendAndCount(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, &assignment.ExperimentEvent{
			ID:           string(rune('a' + i)),
			UserID:       "user-1",
			ExperimentID: "exp-1",
			VariantID:    "control",
			Name:         "conversion",
			Timestamp:    time.Now(),
		}))
	}

	events, err := repo.GetByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	n, err := repo.CountByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	empty, err := repo.GetByExperiment(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
