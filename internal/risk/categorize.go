// Package risk assigns percentile-based risk tiers, ranks studies and sites,
// and attributes each record's top penalty drivers.
package risk

import (
	"github.com/clinicalops/trialrisk/internal/domain"
)

// Bounds are the tier cut-offs computed from one batch.
type Bounds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// ComputeBounds derives the tier cut-offs from the batch's score quantiles.
func ComputeBounds(scores []float64, policy domain.Policy) Bounds {
	return Bounds{
		High:   Quantile(scores, policy.HighRiskQuantile),
		Medium: Quantile(scores, policy.MediumRiskQuantile),
	}
}

// Level returns the tier for one score. Ties at a bound go to the worse tier.
// NaN compares false against both bounds and lands in Low Risk.
func (b Bounds) Level(score float64) domain.RiskLevel {
	switch {
	case score <= b.High:
		return domain.RiskHigh
	case score <= b.Medium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Categorize maps each score to a risk tier relative to its own batch.
func Categorize(scores []float64, policy domain.Policy) []domain.RiskLevel {
	bounds := ComputeBounds(scores, policy)

	levels := make([]domain.RiskLevel, len(scores))
	for i, s := range scores {
		levels[i] = bounds.Level(s)
	}
	return levels
}
