package experiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

func validExperiment() *Experiment {
	return &Experiment{
		ID:     "exp-1",
		Name:   "Checkout button color",
		Type:   TypeAB,
		Status: StatusDraft,
		Variants: []Variant{
			{ID: "control", Name: "Blue", TrafficPercent: 50, IsControl: true},
			{ID: "treatment", Name: "Green", TrafficPercent: 50},
		},
		TargetMetrics: []TargetMetric{
			{ID: "m1", Name: "conversion", Aggregation: AggregationRate, IsPrimary: true},
		},
		Allocation:  Allocation{TrafficPercent: 100},
		Statistical: StatisticalConfig{SignificanceLevel: 0.05, Power: 0.8, MinSampleSize: 100},
		CreatedAt:   time.Now(),
	}
}

func TestExperimentValidate(t *testing.T) {
	exp := validExperiment()
	assert.NoError(t, exp.Validate())
}

func TestExperimentValidate_TrafficNotConserved(t *testing.T) {
	exp := validExperiment()
	exp.Variants[1].TrafficPercent = 49 // 50 + 49 = 99

	err := exp.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTrafficNotConserved)
	assert.True(t, shared.IsValidation(err))
}

func TestExperimentValidate_TrafficTolerance(t *testing.T) {
	// Three-way split: 33.33 * 3 = 99.99, within the 0.01 tolerance.
	exp := validExperiment()
	exp.Variants = []Variant{
		{ID: "a", TrafficPercent: 33.33, IsControl: true},
		{ID: "b", TrafficPercent: 33.33},
		{ID: "c", TrafficPercent: 33.34},
	}
	assert.NoError(t, exp.Validate())
}

func TestExperimentValidate_NoPrimaryMetric(t *testing.T) {
	exp := validExperiment()
	exp.TargetMetrics[0].IsPrimary = false

	err := exp.Validate()
	assert.ErrorIs(t, err, shared.ErrNoPrimaryMetric)
}

func TestExperimentValidate_SampleSizeFloor(t *testing.T) {
	exp := validExperiment()
	exp.Statistical.MinSampleSize = 99

	err := exp.Validate()
	assert.ErrorIs(t, err, shared.ErrSampleSizeTooSmall)
}

func TestExperimentValidate_EmptyName(t *testing.T) {
	exp := validExperiment()
	exp.Name = ""

	assert.True(t, shared.IsValidation(exp.Validate()))
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestExperimentStart(t *testing.T) {
	exp := validExperiment()
	now := time.Now()

	err := exp.Start(now, 384)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exp.Status)
	require.NotNil(t, exp.StartedAt)
	assert.Equal(t, now, *exp.StartedAt)
	// The computed requirement exceeded the configured floor, so it wins.
	assert.Equal(t, 384, exp.Statistical.MinSampleSize)
}

func TestExperimentStart_KeepsLargerConfiguredFloor(t *testing.T) {
	exp := validExperiment()
	exp.Statistical.MinSampleSize = 5000

	require.NoError(t, exp.Start(time.Now(), 384))
	assert.Equal(t, 5000, exp.Statistical.MinSampleSize)
}

func TestExperimentStart_NotDraft(t *testing.T) {
	exp := validExperiment()
	require.NoError(t, exp.Start(time.Now(), 0))

	err := exp.Start(time.Now(), 0)
	assert.ErrorIs(t, err, shared.ErrNotDraft)
	assert.True(t, shared.IsInvalidState(err))
}

func TestExperimentStart_TooFewVariants(t *testing.T) {
	exp := validExperiment()
	exp.Variants = exp.Variants[:1]

	assert.ErrorIs(t, exp.Start(time.Now(), 0), shared.ErrTooFewVariants)
}

func TestExperimentLifecycle_PauseResume(t *testing.T) {
	exp := validExperiment()
	require.NoError(t, exp.Start(time.Now(), 0))

	require.NoError(t, exp.Pause())
	assert.Equal(t, StatusPaused, exp.Status)

	require.NoError(t, exp.Resume())
	assert.Equal(t, StatusRunning, exp.Status)
}

func TestExperimentLifecycle_CompleteIsTerminal(t *testing.T) {
	exp := validExperiment()
	require.NoError(t, exp.Start(time.Now(), 0))
	require.NoError(t, exp.Complete(time.Now(), "manual stop", nil))

	assert.Equal(t, StatusCompleted, exp.Status)
	assert.Equal(t, "manual stop", exp.StopReason)
	assert.NotNil(t, exp.EndedAt)
	assert.True(t, exp.Status.IsTerminal())

	// No way back to running from a terminal state.
	assert.Error(t, exp.Resume())
	assert.Error(t, exp.Pause())
	assert.Error(t, exp.Start(time.Now(), 0))
}

func TestExperimentLifecycle_Archive(t *testing.T) {
	exp := validExperiment()
	require.NoError(t, exp.Archive())
	assert.Equal(t, StatusArchived, exp.Status)

	running := validExperiment()
	require.NoError(t, running.Start(time.Now(), 0))
	assert.ErrorIs(t, running.Archive(), shared.ErrTerminalState)
}

// ─────────────────────────────────────────────────────────────────────────────
// Variant selection
// ─────────────────────────────────────────────────────────────────────────────

func TestPickVariant_PartitionsByCumulativeTraffic(t *testing.T) {
	exp := validExperiment()

	v, ok := exp.PickVariant(0.25)
	require.True(t, ok)
	assert.Equal(t, "control", v.ID)

	v, ok = exp.PickVariant(0.75)
	require.True(t, ok)
	assert.Equal(t, "treatment", v.ID)
}

func TestPickVariant_BoundaryBelongsToLowerArm(t *testing.T) {
	exp := validExperiment()

	v, ok := exp.PickVariant(0.5)
	require.True(t, ok)
	assert.Equal(t, "control", v.ID)
}

func TestPickVariant_ZeroHash(t *testing.T) {
	exp := validExperiment()

	v, ok := exp.PickVariant(0)
	require.True(t, ok)
	assert.Equal(t, "control", v.ID)
}

func TestDefaultVariantID(t *testing.T) {
	exp := validExperiment()
	assert.Equal(t, "control", exp.DefaultVariantID())

	// No declared control: first variant is the default.
	exp.Variants[0].IsControl = false
	assert.Equal(t, "control", exp.DefaultVariantID())

	exp.Variants = nil
	assert.Equal(t, "", exp.DefaultVariantID())
}

func TestRunningDays(t *testing.T) {
	exp := validExperiment()
	assert.Equal(t, 0.0, exp.RunningDays(time.Now()))

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, exp.Start(start, 0))
	assert.InDelta(t, 14.0, exp.RunningDays(start.Add(14*24*time.Hour)), 0.001)
}

// ─────────────────────────────────────────────────────────────────────────────
// Segmentation rules
// ─────────────────────────────────────────────────────────────────────────────

func TestSegmentRuleMatches(t *testing.T) {
	attrs := map[string]interface{}{
		"country": "DE",
		"age":     float64(30),
	}

	tests := []struct {
		name string
		rule SegmentRule
		want bool
	}{
		{"eq match", SegmentRule{Property: "country", Operator: "eq", Value: "DE"}, true},
		{"eq mismatch", SegmentRule{Property: "country", Operator: "eq", Value: "US"}, false},
		{"eq missing attribute", SegmentRule{Property: "plan", Operator: "eq", Value: "pro"}, false},
		{"neq match", SegmentRule{Property: "country", Operator: "neq", Value: "US"}, true},
		{"neq missing attribute matches", SegmentRule{Property: "plan", Operator: "neq", Value: "pro"}, true},
		{"in match", SegmentRule{Property: "country", Operator: "in", Value: []interface{}{"DE", "FR"}}, true},
		{"in mismatch", SegmentRule{Property: "country", Operator: "in", Value: []interface{}{"US"}}, false},
		{"gt match", SegmentRule{Property: "age", Operator: "gt", Value: float64(18)}, true},
		{"lt mismatch", SegmentRule{Property: "age", Operator: "lt", Value: float64(18)}, false},
		{"unknown operator", SegmentRule{Property: "age", Operator: "between", Value: float64(18)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(attrs))
		})
	}
}

func TestAllocationExcludes(t *testing.T) {
	a := Allocation{TrafficPercent: 100, ExcludeUsers: []string{"qa-1", "qa-2"}}
	assert.True(t, a.Excludes("qa-1"))
	assert.False(t, a.Excludes("user-1"))
}
