// Package experiment contains the experiment aggregate: definitions, variants,
// target metrics, segmentation, scheduling, and the lifecycle state machine.
// This is the core of the business logic - no external dependencies beyond shared.
package experiment

import (
	"math"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type classifies the experiment design.
type Type string

const (
	// TypeAB - classic two-or-more arm A/B test.
	TypeAB Type = "ab"
	// TypeMultivariate - factorial design expanded to one variant per combination.
	TypeMultivariate Type = "multivariate"
	// TypeFeatureFlag - progressive rollout driven by variant feature flags.
	TypeFeatureFlag Type = "feature_flag"
)

// IsValid checks that the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeAB, TypeMultivariate, TypeFeatureFlag:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of an experiment.
type Status string

const (
	// StatusDraft - definition is still mutable, nothing is recorded.
	StatusDraft Status = "draft"
	// StatusRunning - assignments and events are being recorded.
	StatusRunning Status = "running"
	// StatusPaused - temporarily halted, resumable.
	StatusPaused Status = "paused"
	// StatusCompleted - terminal; results frozen.
	StatusCompleted Status = "completed"
	// StatusArchived - terminal; retained for audit.
	StatusArchived Status = "archived"
)

// IsValid checks that the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states that can never transition back to running.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// Aggregation is how a metric's raw event values roll up per variant.
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationCount Aggregation = "count"
	AggregationRate  Aggregation = "rate"
)

// IsValid checks that the aggregation kind is known.
func (a Aggregation) IsValid() bool {
	switch a {
	case AggregationSum, AggregationAvg, AggregationCount, AggregationRate:
		return true
	default:
		return false
	}
}

// Direction is the expected direction of a metric under the treatment.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// StopConditionKind names the automatic stop rules.
type StopConditionKind string

const (
	// StopDuration - days since start reach the threshold.
	StopDuration StopConditionKind = "duration"
	// StopSampleSize - total assignments reach the threshold.
	StopSampleSize StopConditionKind = "sample_size"
	// StopSignificance - overall p-value drops to the threshold or below.
	StopSignificance StopConditionKind = "significance"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Variant is one arm of the experiment. Immutable once the experiment runs.
type Variant struct {
	// ID - unique within the experiment.
	ID string `json:"id"`

	// Name - human-readable label.
	Name string `json:"name"`

	// TrafficPercent - share of eligible traffic, 0-100.
	TrafficPercent float64 `json:"traffic_percent"`

	// IsControl marks the baseline arm. Exactly one control is
	// recommended but not enforced.
	IsControl bool `json:"is_control"`

	// Configuration is the opaque payload delivered to the application
	// when this variant is assigned.
	Configuration map[string]interface{} `json:"configuration,omitempty"`

	// FeatureFlags are the named toggles this variant switches on.
	FeatureFlags map[string]interface{} `json:"feature_flags,omitempty"`
}

// TargetMetric is a measurable objective of the experiment.
type TargetMetric struct {
	// ID - unique within the experiment.
	ID string `json:"id"`

	// Name is the tracked event name this metric aggregates
	// (e.g. "conversion", "checkout_value").
	Name string `json:"name"`

	// Aggregation - how event values roll up per variant.
	Aggregation Aggregation `json:"aggregation"`

	// Direction - expected direction of the effect.
	Direction Direction `json:"direction,omitempty"`

	// MDEPercent is the minimum detectable effect as a relative percent.
	MDEPercent float64 `json:"mde_percent,omitempty"`

	// Baseline is the expected baseline proportion/value, used for
	// sample-size planning. Optional; 0 means unknown.
	Baseline float64 `json:"baseline,omitempty"`

	// IsPrimary metrics drive sample-size planning and the overall verdict.
	IsPrimary bool `json:"is_primary"`
}

// SegmentKind distinguishes segmentation predicate sources.
type SegmentKind string

const (
	SegmentProperty    SegmentKind = "property"
	SegmentBehavior    SegmentKind = "behavior"
	SegmentDemographic SegmentKind = "demographic"
)

// SegmentRule is a single eligibility predicate. All configured rules must
// hold for a user to be eligible.
type SegmentRule struct {
	Kind     SegmentKind `json:"kind"`
	Property string      `json:"property"`
	Operator string      `json:"operator"` // "eq", "neq", "in", "gt", "lt"
	Value    interface{} `json:"value"`
}

// Matches evaluates the rule against a user attribute map. A missing
// attribute never matches, except for the "neq" operator.
func (r SegmentRule) Matches(attributes map[string]interface{}) bool {
	actual, ok := attributes[r.Property]
	switch r.Operator {
	case "eq":
		return ok && actual == r.Value
	case "neq":
		return !ok || actual != r.Value
	case "in":
		candidates, isList := r.Value.([]interface{})
		if !ok || !isList {
			return false
		}
		for _, c := range candidates {
			if actual == c {
				return true
			}
		}
		return false
	case "gt":
		av, aok := toFloat(actual)
		bv, bok := toFloat(r.Value)
		return ok && aok && bok && av > bv
	case "lt":
		av, aok := toFloat(actual)
		bv, bok := toFloat(r.Value)
		return ok && aok && bok && av < bv
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Allocation is the traffic admission policy for the whole experiment.
type Allocation struct {
	// TrafficPercent is the share of all users admitted into the
	// experiment at all, 0-100. Users hashing above it are never assigned.
	TrafficPercent float64 `json:"traffic_percent"`

	// ExcludeUsers are user IDs never assigned regardless of hash.
	ExcludeUsers []string `json:"exclude_users,omitempty"`
}

// Excludes reports whether the user is on the explicit exclude list.
func (a Allocation) Excludes(userID string) bool {
	for _, id := range a.ExcludeUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// StopCondition is a rule that auto-terminates a running experiment.
type StopCondition struct {
	Kind StopConditionKind `json:"kind"`

	// Threshold semantics depend on Kind: days for duration, assignment
	// count for sample_size, p-value ceiling for significance.
	Threshold float64 `json:"threshold"`
}

// Schedule holds timing settings and stop conditions.
type Schedule struct {
	// MinDurationDays - soft minimum before stop conditions fire (0 = none).
	MinDurationDays int `json:"min_duration_days,omitempty"`

	// StopConditions are evaluated in declaration order by the monitor;
	// the first satisfied condition stops the experiment.
	StopConditions []StopCondition `json:"stop_conditions,omitempty"`
}

// StatisticalConfig carries the planning parameters.
type StatisticalConfig struct {
	// SignificanceLevel is α (default 0.05).
	SignificanceLevel float64 `json:"significance_level"`

	// Power is 1-β (default 0.8).
	Power float64 `json:"power"`

	// NonParametric switches continuous-metric comparisons from Welch's
	// t-test to the Mann-Whitney U test. Useful for heavily skewed value
	// distributions (revenue, latency).
	NonParametric bool `json:"non_parametric,omitempty"`

	// MinSampleSize is the configured floor per the create validation;
	// Start raises it to the computed requirement.
	MinSampleSize int `json:"min_sample_size"`
}

// Defaults fills unset fields.
func (c StatisticalConfig) Defaults() StatisticalConfig {
	if c.SignificanceLevel <= 0 {
		c.SignificanceLevel = 0.05
	}
	if c.Power <= 0 {
		c.Power = 0.8
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: EXPERIMENT
// ══════════════════════════════════════════════════════════════════════════════

// trafficTolerance is the permitted deviation from 100% when validating
// variant traffic shares.
const trafficTolerance = 0.01

// Experiment is the aggregate root: a named test definition with variants,
// metrics, targeting and lifecycle state.
type Experiment struct {
	// ID - unique identifier (UUID in string form).
	ID string `json:"id"`

	// Name - human-readable title.
	Name string `json:"name"`

	// Description - free-form notes.
	Description string `json:"description,omitempty"`

	// Type of the experiment design.
	Type Type `json:"type"`

	// Status - lifecycle state. Mutated only through the transition methods.
	Status Status `json:"status"`

	// Variants - the arms. Immutable once running.
	Variants []Variant `json:"variants"`

	// TargetMetrics - the measured objectives. Immutable once running.
	TargetMetrics []TargetMetric `json:"target_metrics"`

	// Segmentation - eligibility predicates, all of which must hold.
	Segmentation []SegmentRule `json:"segmentation,omitempty"`

	// Allocation - overall traffic admission policy.
	Allocation Allocation `json:"allocation"`

	// Schedule - timing and stop conditions.
	Schedule Schedule `json:"schedule"`

	// Statistical - planning parameters.
	Statistical StatisticalConfig `json:"statistical"`

	// StopReason records which rule or caller stopped the experiment.
	StopReason string `json:"stop_reason,omitempty"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Results is populated when the experiment completes. Derived data;
	// recomputable at any time from assignments and events.
	Results *Results `json:"results,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks the invariants required at creation time:
// traffic conservation, a primary metric, and a sane sample-size floor.
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return shared.NewDomainError("experiment", "Validate", shared.ErrEmptyValue, "name is required")
	}
	if !e.Type.IsValid() {
		return shared.NewDomainError("experiment", "Validate", shared.ErrInvalidInput, "unknown experiment type")
	}

	var total float64
	for _, v := range e.Variants {
		if v.TrafficPercent < 0 || v.TrafficPercent > 100 {
			return shared.NewDomainError("experiment", "Validate", shared.ErrValueOutOfRange, "variant traffic must be between 0 and 100")
		}
		total += v.TrafficPercent
	}
	if len(e.Variants) > 0 && math.Abs(total-100) > trafficTolerance {
		return shared.ErrTrafficNotConserved
	}

	if !e.hasPrimaryMetric() {
		return shared.ErrNoPrimaryMetric
	}
	for _, m := range e.TargetMetrics {
		if !m.Aggregation.IsValid() {
			return shared.NewDomainError("experiment", "Validate", shared.ErrInvalidInput, "unknown metric aggregation")
		}
	}

	if e.Statistical.MinSampleSize < 100 {
		return shared.ErrSampleSizeTooSmall
	}

	if e.Allocation.TrafficPercent < 0 || e.Allocation.TrafficPercent > 100 {
		return shared.NewDomainError("experiment", "Validate", shared.ErrValueOutOfRange, "allocation traffic must be between 0 and 100")
	}

	return nil
}

func (e *Experiment) hasPrimaryMetric() bool {
	for _, m := range e.TargetMetrics {
		if m.IsPrimary {
			return true
		}
	}
	return false
}

// PrimaryMetric returns the first primary target metric.
func (e *Experiment) PrimaryMetric() (TargetMetric, bool) {
	for _, m := range e.TargetMetrics {
		if m.IsPrimary {
			return m, true
		}
	}
	return TargetMetric{}, false
}

// ControlVariant returns the declared control, falling back to the first
// variant when no control is declared.
func (e *Experiment) ControlVariant() (Variant, bool) {
	for _, v := range e.Variants {
		if v.IsControl {
			return v, true
		}
	}
	if len(e.Variants) > 0 {
		return e.Variants[0], true
	}
	return Variant{}, false
}

// DefaultVariantID is what assign returns for non-running experiments:
// the control variant's id, else the first variant's, else empty.
func (e *Experiment) DefaultVariantID() string {
	if v, ok := e.ControlVariant(); ok {
		return v.ID
	}
	return ""
}

// VariantByID finds a variant.
func (e *Experiment) VariantByID(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// PickVariant maps a bucketing hash in [0,1) onto the cumulative-traffic
// partition of the variant list in declaration order: the first variant
// whose cumulative share reaches the hash wins. Falls back to the control
// variant, else the first.
func (e *Experiment) PickVariant(hash float64) (Variant, bool) {
	point := hash * 100
	var cumulative float64
	for _, v := range e.Variants {
		cumulative += v.TrafficPercent
		if point <= cumulative {
			return v, true
		}
	}
	return e.ControlVariant()
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle state machine: draft → running → {completed, paused, archived};
// paused → running. Every transition is atomic on the aggregate - the caller
// persists the whole experiment or nothing.
// ─────────────────────────────────────────────────────────────────────────────

// Start moves the experiment from draft to running. requiredSampleSize is
// the statistically computed per-arm requirement; it is stored back into
// the configuration when it exceeds the configured floor.
func (e *Experiment) Start(now time.Time, requiredSampleSize int) error {
	if e.Status != StatusDraft {
		return shared.ErrNotDraft
	}
	if len(e.Variants) < 2 {
		return shared.ErrTooFewVariants
	}
	if len(e.TargetMetrics) == 0 {
		return shared.ErrNoTargetMetrics
	}

	if requiredSampleSize > e.Statistical.MinSampleSize {
		e.Statistical.MinSampleSize = requiredSampleSize
	}

	e.Status = StatusRunning
	e.StartedAt = &now
	return nil
}

// Complete moves a running experiment to its terminal completed state,
// freezing the given results. The status flip is what shuts the door on
// late-arriving events: once not running, track drops them.
func (e *Experiment) Complete(now time.Time, reason string, results *Results) error {
	if e.Status != StatusRunning {
		return shared.ErrNotRunning
	}
	e.Status = StatusCompleted
	e.StopReason = reason
	e.EndedAt = &now
	e.Results = results
	return nil
}

// Pause suspends a running experiment.
func (e *Experiment) Pause() error {
	if e.Status != StatusRunning {
		return shared.ErrNotRunning
	}
	e.Status = StatusPaused
	return nil
}

// Resume puts a paused experiment back in running state.
func (e *Experiment) Resume() error {
	if e.Status != StatusPaused {
		return shared.ErrNotPaused
	}
	e.Status = StatusRunning
	return nil
}

// Archive retires a completed or draft experiment for audit retention.
func (e *Experiment) Archive() error {
	if e.Status == StatusRunning || e.Status == StatusArchived {
		return shared.ErrTerminalState
	}
	e.Status = StatusArchived
	return nil
}

// IsRunning reports whether assignments and events may be recorded.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// RunningDays returns whole days since start at the given instant.
func (e *Experiment) RunningDays(now time.Time) float64 {
	if e.StartedAt == nil {
		return 0
	}
	return now.Sub(*e.StartedAt).Hours() / 24
}
