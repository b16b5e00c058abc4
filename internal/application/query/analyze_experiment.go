// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/pkg/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE EXPERIMENT QUERY
// Computes per-variant aggregates, confidence intervals, significance tests
// and recommendations from assignments + events. Read-mostly and recomputable:
// it runs concurrently with ongoing tracking and tolerates a partially
// up-to-date event set.
// ══════════════════════════════════════════════════════════════════════════════

// conversionEvent is the event name that counts toward conversion rates.
const conversionEvent = "conversion"

// AnalyzeExperimentHandler is the statistical analysis engine.
type AnalyzeExperimentHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	events      assignment.EventRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalyzeExperimentHandler creates the handler.
func NewAnalyzeExperimentHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	events assignment.EventRepository,
	logger *slog.Logger,
) *AnalyzeExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeExperimentHandler{
		experiments: experiments,
		assignments: assignments,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *AnalyzeExperimentHandler) WithClock(now func() time.Time) *AnalyzeExperimentHandler {
	h.now = now
	return h
}

// Handle analyzes the experiment by id.
// Returns shared.ErrExperimentNotFound for unknown ids.
func (h *AnalyzeExperimentHandler) Handle(ctx context.Context, experimentID string) (*experiment.Results, error) {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	// Completed experiments return their frozen results untouched.
	if exp.Status == experiment.StatusCompleted && exp.Results != nil {
		return exp.Results, nil
	}

	return h.Compute(ctx, exp)
}

// Compute runs a full analysis pass over the current assignments and events.
// Sparse data never errors: empty arms get rate 0, CI [0,0], and the overall
// verdict degrades to inconclusive.
func (h *AnalyzeExperimentHandler) Compute(ctx context.Context, exp *experiment.Experiment) (*experiment.Results, error) {
	assignments, err := h.assignments.GetByExperiment(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	events, err := h.events.GetByExperiment(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	arms := h.buildArms(exp, assignments, events)

	results := &experiment.Results{
		ExperimentID:   exp.ID,
		ComputedAt:     h.now(),
		VariantResults: make([]experiment.VariantResult, 0, len(exp.Variants)),
	}

	totalSamples := 0
	for _, v := range exp.Variants {
		arm := arms[v.ID]
		results.VariantResults = append(results.VariantResults, h.variantResult(exp, v, arm))
		totalSamples += len(arm.users)
	}

	results.Comparisons = h.compare(exp, arms)
	results.Summary = h.summarize(exp, results, totalSamples)
	results.Recommendations = h.recommend(exp, results)

	return results, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-variant aggregation
// ─────────────────────────────────────────────────────────────────────────────

// arm is the working aggregate for one variant.
type arm struct {
	users          map[string]bool    // assigned users
	convertedUsers map[string]bool    // users with at least one conversion event
	eventsByMetric map[string][]*assignment.ExperimentEvent
	// perUser holds, per metric name, each assigned user's summed value.
	// Users without a matching event contribute zero, so the samples stay
	// aligned with the assignment population.
	perUser map[string]map[string]float64
}

func newArm() *arm {
	return &arm{
		users:          make(map[string]bool),
		convertedUsers: make(map[string]bool),
		eventsByMetric: make(map[string][]*assignment.ExperimentEvent),
		perUser:        make(map[string]map[string]float64),
	}
}

func (h *AnalyzeExperimentHandler) buildArms(
	exp *experiment.Experiment,
	assignments []*assignment.UserAssignment,
	events []*assignment.ExperimentEvent,
) map[string]*arm {
	arms := make(map[string]*arm, len(exp.Variants))
	for _, v := range exp.Variants {
		arms[v.ID] = newArm()
	}

	for _, a := range assignments {
		arm, ok := arms[a.VariantID]
		if !ok {
			continue
		}
		arm.users[a.UserID] = true
	}

	metricNames := make(map[string]bool, len(exp.TargetMetrics))
	for _, m := range exp.TargetMetrics {
		metricNames[m.Name] = true
	}

	for _, ev := range events {
		arm, ok := arms[ev.VariantID]
		if !ok || !arm.users[ev.UserID] {
			continue
		}
		if ev.Name == conversionEvent {
			arm.convertedUsers[ev.UserID] = true
		}
		if !metricNames[ev.Name] {
			continue
		}
		arm.eventsByMetric[ev.Name] = append(arm.eventsByMetric[ev.Name], ev)
		if arm.perUser[ev.Name] == nil {
			arm.perUser[ev.Name] = make(map[string]float64)
		}
		arm.perUser[ev.Name][ev.UserID] += ev.Value
	}

	return arms
}

func (h *AnalyzeExperimentHandler) variantResult(exp *experiment.Experiment, v experiment.Variant, a *arm) experiment.VariantResult {
	n := len(a.users)
	conversions := len(a.convertedUsers)

	rate := 0.0
	if n > 0 {
		rate = float64(conversions) / float64(n)
	}
	ci := stats.WaldInterval(rate, n)

	vr := experiment.VariantResult{
		VariantID:      v.ID,
		VariantName:    v.Name,
		IsControl:      v.IsControl,
		SampleSize:     n,
		Conversions:    conversions,
		ConversionRate: rate,
		Interval:       experiment.ConfidenceInterval{Lower: ci.Lower, Upper: ci.Upper},
		MetricValues:   make(map[string]float64, len(exp.TargetMetrics)),
	}

	for _, m := range exp.TargetMetrics {
		vr.MetricValues[m.ID] = aggregateMetric(m, a, n)
	}
	return vr
}

// aggregateMetric rolls a metric's events up per its aggregation kind.
func aggregateMetric(m experiment.TargetMetric, a *arm, sampleSize int) float64 {
	events := a.eventsByMetric[m.Name]
	switch m.Aggregation {
	case experiment.AggregationCount:
		return float64(len(events))
	case experiment.AggregationSum:
		var sum float64
		for _, ev := range events {
			sum += ev.Value
		}
		return sum
	case experiment.AggregationAvg:
		if len(events) == 0 {
			return 0
		}
		var sum float64
		for _, ev := range events {
			sum += ev.Value
		}
		return sum / float64(len(events))
	case experiment.AggregationRate:
		if sampleSize == 0 {
			return 0
		}
		// Distinct users who triggered the metric, over assignments.
		triggered := make(map[string]bool, len(events))
		for _, ev := range events {
			triggered[ev.UserID] = true
		}
		return float64(len(triggered)) / float64(sampleSize)
	default:
		return 0
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Significance testing
// ─────────────────────────────────────────────────────────────────────────────

// compare tests every non-baseline variant against the first (baseline)
// variant, per metric. Rate/count metrics use the chi-square test on
// converted-vs-not counts; continuous metrics use Welch's t-test over
// per-user sums.
func (h *AnalyzeExperimentHandler) compare(exp *experiment.Experiment, arms map[string]*arm) []experiment.MetricComparison {
	if len(exp.Variants) < 2 {
		return nil
	}
	baseline := exp.Variants[0]
	baseArm := arms[baseline.ID]

	var comparisons []experiment.MetricComparison
	for _, m := range exp.TargetMetrics {
		baseValue := aggregateMetric(m, baseArm, len(baseArm.users))
		for _, v := range exp.Variants[1:] {
			varArm := arms[v.ID]
			varValue := aggregateMetric(m, varArm, len(varArm.users))

			result := testMetric(m, baseArm, varArm, exp.Statistical.NonParametric)
			comparisons = append(comparisons, experiment.MetricComparison{
				MetricID:      m.ID,
				MetricName:    m.Name,
				VariantID:     v.ID,
				BaselineValue: baseValue,
				VariantValue:  varValue,
				UpliftPercent: upliftPercent(baseValue, varValue),
				PValue:        result.PValue,
				Significant:   result.Significant,
			})
		}
	}
	return comparisons
}

func testMetric(m experiment.TargetMetric, base, variant *arm, nonParametric bool) stats.TestResult {
	switch m.Aggregation {
	case experiment.AggregationRate, experiment.AggregationCount:
		return stats.ChiSquareTest([]stats.Proportion{
			{Successes: metricUsers(m, base), Trials: len(base.users)},
			{Successes: metricUsers(m, variant), Trials: len(variant.users)},
		})
	default:
		if nonParametric {
			return stats.MannWhitneyU(perUserValues(m, base), perUserValues(m, variant))
		}
		return stats.WelchTTest(
			stats.Summarize(perUserValues(m, base)),
			stats.Summarize(perUserValues(m, variant)),
		)
	}
}

// metricUsers counts distinct users who triggered the metric in the arm.
func metricUsers(m experiment.TargetMetric, a *arm) int {
	triggered := make(map[string]bool)
	for _, ev := range a.eventsByMetric[m.Name] {
		triggered[ev.UserID] = true
	}
	return len(triggered)
}

// perUserValues returns each assigned user's summed metric value, zeros
// included, so the sample covers the whole assignment population.
func perUserValues(m experiment.TargetMetric, a *arm) []float64 {
	values := make([]float64, 0, len(a.users))
	sums := a.perUser[m.Name]
	for user := range a.users {
		values = append(values, sums[user])
	}
	return values
}

func upliftPercent(baseline, variant float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (variant - baseline) / baseline * 100
}

// ─────────────────────────────────────────────────────────────────────────────
// Summary & recommendations
// ─────────────────────────────────────────────────────────────────────────────

func (h *AnalyzeExperimentHandler) summarize(exp *experiment.Experiment, results *experiment.Results, totalSamples int) experiment.Summary {
	summary := experiment.Summary{
		Status:          experiment.ResultInconclusive,
		PValue:          1,
		TotalSampleSize: totalSamples,
	}

	primary, hasPrimary := exp.PrimaryMetric()
	if hasPrimary {
		// Provisional winner: the variant with the highest primary-metric value.
		best := -1
		for i, vr := range results.VariantResults {
			if best == -1 || vr.MetricValues[primary.ID] > results.VariantResults[best].MetricValues[primary.ID] {
				best = i
			}
		}
		if best >= 0 {
			summary.WinningVariantID = results.VariantResults[best].VariantID
			baselineValue := results.VariantResults[0].MetricValues[primary.ID]
			summary.UpliftPercent = upliftPercent(baselineValue, results.VariantResults[best].MetricValues[primary.ID])
		}
	}

	// Overall p-value: the strongest per-metric evidence observed.
	for _, c := range results.Comparisons {
		if c.PValue < summary.PValue {
			summary.PValue = c.PValue
		}
	}

	summary.Status = experiment.ClassifyPValue(summary.PValue)
	summary.Confidence = 1 - summary.PValue
	return summary
}

func (h *AnalyzeExperimentHandler) recommend(exp *experiment.Experiment, results *experiment.Results) []experiment.Recommendation {
	s := results.Summary
	if s.Status != experiment.ResultInconclusive && s.WinningVariantID != "" {
		return []experiment.Recommendation{{
			Action:         experiment.ActionImplement,
			VariantID:      s.WinningVariantID,
			Reason:         fmt.Sprintf("winning variant shows a %.1f%% change at p=%.4f", s.UpliftPercent, s.PValue),
			ExpectedImpact: s.UpliftPercent,
		}}
	}

	recs := []experiment.Recommendation{{
		Action: experiment.ActionExtendDuration,
		Reason: fmt.Sprintf("no significant difference yet (p=%.4f); keep the experiment running", s.PValue),
	}}
	if s.TotalSampleSize < exp.Statistical.MinSampleSize*len(exp.Variants) {
		recs = append(recs, experiment.Recommendation{
			Action: experiment.ActionIncreaseTraffic,
			Reason: fmt.Sprintf("collected %d samples of the %d required across arms", s.TotalSampleSize, exp.Statistical.MinSampleSize*len(exp.Variants)),
		})
	}
	return recs
}
