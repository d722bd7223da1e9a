package anomaly

import (
	"context"
	"math"
	"sort"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// madScale makes the MAD a consistent estimator of the standard deviation.
const madScale = 0.6745

// MAD flags sites whose DQI sits far below the batch median, measured as a
// robust z-score over the median absolute deviation.
type MAD struct {
	threshold float64
}

// NewMAD builds a MAD detector. Thresholds at or below 1 (the isolation
// forest range) fall back to 3.5.
func NewMAD(cfg domain.AnomalyConfig) *MAD {
	t := cfg.Threshold
	if t <= 1 {
		t = 3.5
	}
	return &MAD{threshold: t}
}

// Name returns "mad".
func (m *MAD) Name() string { return MethodMAD }

// Detect scores each site. The anomaly score maps |z| onto [0,1) as
// |z| / (|z| + threshold), so a site exactly at the threshold scores 0.5.
// Only sites below the median can be flagged.
func (m *MAD) Detect(ctx context.Context, sites []domain.DQIRecord) ([]domain.AnomalyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var values []float64
	for _, rec := range sites {
		if !math.IsNaN(rec.DQIScore) {
			values = append(values, rec.DQIScore)
		}
	}

	results := make([]domain.AnomalyResult, len(sites))
	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)

	for i, rec := range sites {
		if mad == 0 || math.IsNaN(mad) || math.IsNaN(rec.DQIScore) {
			results[i] = resultFor(rec, 0, false)
			continue
		}
		z := madScale * (rec.DQIScore - med) / mad
		score := math.Abs(z) / (math.Abs(z) + m.threshold)
		results[i] = resultFor(rec, math.Round(score*1e4)/1e4, z <= -m.threshold)
	}
	return results, nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
