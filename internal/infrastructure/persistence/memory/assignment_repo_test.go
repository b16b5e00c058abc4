package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

func newAssignment(userID, experimentID, variantID string) *assignment.UserAssignment {
	return &assignment.UserAssignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		BucketHash:   0.5,
		AssignedAt:   time.Now(),
	}
}

func TestAssignmentUpsert_FirstWriteWins(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()

	winner, created, err := repo.Upsert(ctx, newAssignment("user-1", "exp-1", "control"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "control", winner.VariantID)

	// A competing write for the same pair loses and sees the winner.
	second, created, err := repo.Upsert(ctx, newAssignment("user-1", "exp-1", "treatment"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "control", second.VariantID)
}

func TestAssignmentUpsert_Concurrent(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()

	const writers = 50
	variants := make([]string, writers)
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			candidate := newAssignment("user-1", "exp-1", fmt.Sprintf("variant-%d", i))
			winner, _, err := repo.Upsert(ctx, candidate)
			require.NoError(t, err)
			variants[i] = winner.VariantID
		}(i)
	}
	wg.Wait()

	// All writers converge on the same winning variant.
	for i := 1; i < writers; i++ {
		assert.Equal(t, variants[0], variants[i])
	}

	held, err := repo.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestAssignmentGet(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()

	_, _, err := repo.Upsert(ctx, newAssignment("user-1", "exp-1", "control"))
	require.NoError(t, err)

	got, err := repo.Get(ctx, assignment.Key{UserID: "user-1", ExperimentID: "exp-1"})
	require.NoError(t, err)
	assert.Equal(t, "control", got.VariantID)

	_, err = repo.Get(ctx, assignment.Key{UserID: "user-1", ExperimentID: "other"})
	assert.True(t, shared.IsNotFound(err))
}

func TestAssignmentCountByExperiment(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		variant := "control"
		if i >= 4 {
			variant = "treatment"
		}
		_, _, err := repo.Upsert(ctx, newAssignment(fmt.Sprintf("user-%d", i), "exp-1", variant))
		require.NoError(t, err)
	}
	_, _, err := repo.Upsert(ctx, newAssignment("user-x", "exp-2", "control"))
	require.NoError(t, err)

	counts, err := repo.CountByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 4, counts["control"])
	assert.Equal(t, 2, counts["treatment"])
}

func TestAssignmentAppendExposure(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()
	key := assignment.Key{UserID: "user-1", ExperimentID: "exp-1"}

	_, _, err := repo.Upsert(ctx, newAssignment("user-1", "exp-1", "control"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendExposure(ctx, key, assignment.ExposureEvent{
			Name:      "conversion",
			Timestamp: time.Now(),
		}))
	}

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got.Exposures, 3)

	err = repo.AppendExposure(ctx, assignment.Key{UserID: "nobody", ExperimentID: "exp-1"}, assignment.ExposureEvent{})
	assert.True(t, shared.IsNotFound(err))
}

func TestAssignmentClonesAreIsolated(t *testing.T) {
	repo := NewAssignmentRepository()
	ctx := context.Background()

	original := newAssignment("user-1", "exp-1", "control")
	stored, _, err := repo.Upsert(ctx, original)
	require.NoError(t, err)

	// Mutating what the caller holds never leaks into the store.
	original.VariantID = "hacked"
	stored.VariantID = "hacked-too"

	got, err := repo.Get(ctx, assignment.Key{UserID: "user-1", ExperimentID: "exp-1"})
	require.NoError(t, err)
	assert.Equal(t, "control", got.VariantID)
}
