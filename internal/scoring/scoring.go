// Package scoring computes the Data Quality Index (DQI) from extracted signals.
//
// Each signal is normalized against its clinical threshold into a 0-100 penalty,
// the penalties are combined with the policy weights, and the DQI is 100 minus
// the weighted mean penalty. The same aggregation serves studies and sites.
package scoring

import (
	"math"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Normalize converts a raw signal percentage into a penalty relative to its
// threshold: 0 at or below the threshold, otherwise the relative excess in
// percent, capped at 100. threshold must be positive. NaN propagates.
func Normalize(value, threshold float64) float64 {
	if value <= threshold {
		return 0
	}
	excess := value - threshold
	return math.Min(excess/threshold*100, 100)
}

// Aggregator scores signal records under a fixed policy.
type Aggregator struct {
	policy      domain.Policy
	totalWeight float64
}

// NewAggregator creates an aggregator for the given policy.
func NewAggregator(policy domain.Policy) *Aggregator {
	return &Aggregator{
		policy:      policy,
		totalWeight: policy.TotalWeight(),
	}
}

// Policy returns the aggregator's policy.
func (a *Aggregator) Policy() domain.Policy {
	return a.policy
}

// Result holds the unrounded aggregation of one record.
type Result struct {
	Normalized      domain.SignalValues
	Contributions   domain.SignalValues
	WeightedPenalty float64
}

// aggregate computes the weighted mean penalty of a record's signals.
func (a *Aggregator) aggregate(signals domain.SignalValues) Result {
	var res Result
	var weighted float64

	for _, s := range domain.Signals {
		norm := Normalize(signals[s], a.policy.Thresholds[s])
		w := a.policy.Weights[s]

		res.Normalized[s] = norm
		res.Contributions[s] = norm * (w / a.totalWeight)
		weighted += norm * w
	}

	res.WeightedPenalty = weighted / a.totalWeight
	return res
}

// Score computes the DQI record for one signal record.
func (a *Aggregator) Score(rec domain.SignalRecord) domain.DQIRecord {
	res := a.aggregate(rec.Signals)

	out := domain.DQIRecord{
		SignalRecord: rec,
		DQIScore:     domain.Round2(100 - res.WeightedPenalty),
	}
	for _, s := range domain.Signals {
		out.Penalties[s] = domain.Round2(res.Contributions[s])
	}
	return out
}

// ScoreAll scores a batch, preserving input order.
func (a *Aggregator) ScoreAll(records []domain.SignalRecord) []domain.DQIRecord {
	out := make([]domain.DQIRecord, len(records))
	for i, rec := range records {
		out[i] = a.Score(rec)
	}
	return out
}

// Backfill derives the penalty breakdown for records read from a legacy DQI
// table that carried scores but no penalty columns. Scores are left untouched.
func (a *Aggregator) Backfill(records []domain.DQIRecord) {
	for i := range records {
		res := a.aggregate(records[i].Signals)
		for _, s := range domain.Signals {
			records[i].Penalties[s] = domain.Round2(res.Contributions[s])
		}
	}
}

// Explain returns the unrounded aggregation for a record.
func (a *Aggregator) Explain(rec domain.SignalRecord) Result {
	return a.aggregate(rec.Signals)
}
