package experiment

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED RESULTS
// Results are never hand-edited - they are recomputed from assignments and
// events, and frozen onto the experiment only at completion.
// ══════════════════════════════════════════════════════════════════════════════

// ResultStatus classifies the overall verdict.
type ResultStatus string

const (
	// ResultHighlySignificant - overall p-value below 0.01.
	ResultHighlySignificant ResultStatus = "highly_significant"
	// ResultSignificant - overall p-value below 0.05.
	ResultSignificant ResultStatus = "significant"
	// ResultInconclusive - not enough evidence either way.
	ResultInconclusive ResultStatus = "inconclusive"
)

// ClassifyPValue maps an overall p-value onto a result status.
func ClassifyPValue(p float64) ResultStatus {
	switch {
	case p < 0.01:
		return ResultHighlySignificant
	case p < 0.05:
		return ResultSignificant
	default:
		return ResultInconclusive
	}
}

// ConfidenceInterval bounds a proportion estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// VariantResult aggregates one arm.
type VariantResult struct {
	VariantID      string             `json:"variant_id"`
	VariantName    string             `json:"variant_name"`
	IsControl      bool               `json:"is_control"`
	SampleSize     int                `json:"sample_size"`
	Conversions    int                `json:"conversions"`
	ConversionRate float64            `json:"conversion_rate"`
	Interval       ConfidenceInterval `json:"confidence_interval"`

	// MetricValues holds the aggregated value per target metric id.
	MetricValues map[string]float64 `json:"metric_values"`
}

// MetricComparison is one metric's test of a variant against the baseline arm.
type MetricComparison struct {
	MetricID      string  `json:"metric_id"`
	MetricName    string  `json:"metric_name"`
	VariantID     string  `json:"variant_id"`
	BaselineValue float64 `json:"baseline_value"`
	VariantValue  float64 `json:"variant_value"`
	UpliftPercent float64 `json:"uplift_percent"`
	PValue        float64 `json:"p_value"`
	Significant   bool    `json:"significant"`
}

// RecommendationAction names the suggested next step.
type RecommendationAction string

const (
	ActionImplement       RecommendationAction = "implement_variant"
	ActionExtendDuration  RecommendationAction = "extend_duration"
	ActionIncreaseTraffic RecommendationAction = "increase_traffic"
	ActionAbandon         RecommendationAction = "abandon"
)

// Recommendation is a synthesized ship/iterate/abandon suggestion.
type Recommendation struct {
	Action         RecommendationAction `json:"action"`
	VariantID      string               `json:"variant_id,omitempty"`
	Reason         string               `json:"reason"`
	ExpectedImpact float64              `json:"expected_impact,omitempty"`
}

// Summary is the overall verdict of an analysis pass.
type Summary struct {
	Status           ResultStatus `json:"status"`
	WinningVariantID string       `json:"winning_variant_id,omitempty"`
	Confidence       float64      `json:"confidence"`
	UpliftPercent    float64      `json:"uplift_percent"`
	PValue           float64      `json:"p_value"`
	TotalSampleSize  int          `json:"total_sample_size"`
}

// Results is the full derived output for an experiment.
type Results struct {
	ExperimentID    string             `json:"experiment_id"`
	ComputedAt      time.Time          `json:"computed_at"`
	VariantResults  []VariantResult    `json:"variant_results"`
	Comparisons     []MetricComparison `json:"metric_comparisons"`
	Summary         Summary            `json:"summary"`
	Recommendations []Recommendation   `json:"recommendations"`
}
