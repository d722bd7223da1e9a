package risk

import (
	"math"
	"sort"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Ranker tiers and orders DQI records under a fixed policy.
type Ranker struct {
	policy domain.Policy
}

// NewRanker creates a ranker for the given policy.
func NewRanker(policy domain.Policy) *Ranker {
	return &Ranker{policy: policy}
}

// RankStudies tiers, attributes and orders study records, worst first.
func (r *Ranker) RankStudies(records []domain.DQIRecord) []domain.RiskRecord {
	return r.rank(records, false)
}

// RankSites tiers and orders site records globally, then numbers each site
// within its study following the global order.
func (r *Ranker) RankSites(records []domain.DQIRecord) []domain.RiskRecord {
	ranked := r.rank(records, true)

	seen := make(map[string]int)
	for i := range ranked {
		seen[ranked[i].StudyID]++
		ranked[i].WithinStudyRank = seen[ranked[i].StudyID]
	}
	return ranked
}

func (r *Ranker) rank(records []domain.DQIRecord, sites bool) []domain.RiskRecord {
	scores := make([]float64, len(records))
	for i, rec := range records {
		scores[i] = rec.EffectiveScore()
	}
	levels := Categorize(scores, r.policy)

	out := make([]domain.RiskRecord, len(records))
	for i, rec := range records {
		out[i] = domain.RiskRecord{
			DQIRecord:  rec,
			RiskLevel:  levels[i],
			TopDrivers: TopDrivers(rec.Penalties, r.policy.TopDrivers),
		}
		if sites {
			out[i].RiskDriver = AttributeDriver(rec, levels[i])
		}
	}

	SortByScore(out)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// SortByScore orders records ascending by effective score (worst first).
// The sort is stable and places NaN scores last.
func SortByScore(records []domain.RiskRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].EffectiveScore(), records[j].EffectiveScore()
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a < b
	})
}
