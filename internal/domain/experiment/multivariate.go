package experiment

import (
	"fmt"

	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MULTIVARIATE VARIANT GENERATION
// Expands a factorial design (factors × levels) into concrete variants before
// the experiment enters draft.
// ══════════════════════════════════════════════════════════════════════════════

// Factor is one dimension of a factorial design.
type Factor struct {
	// Name of the factor, e.g. "button_color".
	Name string `json:"name"`

	// Levels are the values the factor takes, e.g. ["red", "green"].
	Levels []string `json:"levels"`
}

// GenerateFactorialVariants produces one variant per element of the Cartesian
// product of all factor levels. Traffic is split equally; any rounding
// remainder is folded into the first combination so the shares still sum to
// 100 within tolerance. The first combination is flagged as control, and each
// variant's feature flags record its factor=level pairings.
//
// The product is walked with an iterative odometer of index counters, so deep
// designs cannot exhaust the stack.
func GenerateFactorialVariants(factors []Factor) ([]Variant, error) {
	if len(factors) == 0 {
		return nil, shared.ErrNoFactors
	}

	combinations := 1
	for _, f := range factors {
		if len(f.Levels) == 0 {
			return nil, shared.ErrEmptyFactorLevels
		}
		combinations *= len(f.Levels)
	}

	share := 100.0 / float64(combinations)
	remainder := 100.0 - share*float64(combinations)

	variants := make([]Variant, 0, combinations)
	counters := make([]int, len(factors))

	for i := 0; i < combinations; i++ {
		flags := make(map[string]interface{}, len(factors))
		config := make(map[string]interface{}, len(factors))
		name := ""
		for fi, f := range factors {
			level := f.Levels[counters[fi]]
			flags[f.Name] = level
			config[f.Name] = level
			if name != "" {
				name += " / "
			}
			name += f.Name + "=" + level
		}

		v := Variant{
			ID:             fmt.Sprintf("variant-%d", i+1),
			Name:           name,
			TrafficPercent: share,
			IsControl:      i == 0,
			Configuration:  config,
			FeatureFlags:   flags,
		}
		if i == 0 {
			v.TrafficPercent += remainder
		}
		variants = append(variants, v)

		// Advance the odometer: bump the last counter, carrying left.
		for fi := len(counters) - 1; fi >= 0; fi-- {
			counters[fi]++
			if counters[fi] < len(factors[fi].Levels) {
				break
			}
			counters[fi] = 0
		}
	}

	return variants, nil
}
